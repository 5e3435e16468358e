package wire

import (
	"sort"

	"github.com/varlink/govarlink/internal/varlinkerr"
)

// Type identifies the kind of value held by a Value, matching the
// enum json_value_type tagged union from the original driver. There is
// deliberately no float type and no standalone null type: absent
// fields represent null, matching "treat null the same as non-existent
// keys" from the original object parser.
type Type int

const (
	TypeBool Type = iota
	TypeInt
	TypeString
	TypeArray
	TypeObject
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged union holding one JSON-graph value: a bool, an
// int64, a string, an Array, or an Object.
type Value struct {
	typ    Type
	b      bool
	i      int64
	s      string
	array  *Array
	object *Object
}

// NewBoolValue, NewIntValue, NewStringValue, NewArrayValue, and
// NewObjectValue build a tagged Value of the matching type. Array and
// Object values take a reference on their argument.
func NewBoolValue(b bool) Value     { return Value{typ: TypeBool, b: b} }
func NewIntValue(i int64) Value     { return Value{typ: TypeInt, i: i} }
func NewStringValue(s string) Value { return Value{typ: TypeString, s: s} }

func NewArrayValue(a *Array) Value {
	return Value{typ: TypeArray, array: a.Ref()}
}

func NewObjectValue(o *Object) Value {
	return Value{typ: TypeObject, object: o.Ref()}
}

// Type reports the value's tag.
func (v Value) Type() Type { return v.typ }

// Bool, Int, String, Array, and Object return the value's payload along
// with whether the value actually holds that type.
func (v Value) Bool() (bool, bool)       { return v.b, v.typ == TypeBool }
func (v Value) Int() (int64, bool)       { return v.i, v.typ == TypeInt }
func (v Value) String() (string, bool)   { return v.s, v.typ == TypeString }
func (v Value) Array() (*Array, bool)    { return v.array, v.typ == TypeArray }
func (v Value) Object() (*Object, bool)  { return v.object, v.typ == TypeObject }

func (v Value) unref() {
	switch v.typ {
	case TypeArray:
		if v.array != nil {
			v.array.Unref()
		}
	case TypeObject:
		if v.object != nil {
			v.object.Unref()
		}
	}
}

func (v Value) writeToBuffer(buf *Buffer) error {
	switch v.typ {
	case TypeBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case TypeInt:
		buf.Printf("%d", v.i)
	case TypeString:
		buf.WriteByte('"')
		writeEscapedString(buf, v.s)
		buf.WriteByte('"')
	case TypeArray:
		return v.array.WriteToBuffer(buf)
	case TypeObject:
		return v.object.WriteToBuffer(buf)
	}
	return nil
}

func writeEscapedString(buf *Buffer, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.Printf("\\u%04x", c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
}

// valueFromScanner reads one JSON value at the scanner's cursor, trying
// in order: object, array, string, the true/false keywords, then number.
func valueFromScanner(sc *Scanner) (Value, error) {
	switch sc.Peek() {
	case '{':
		obj, err := objectFromScanner(sc)
		if err != nil {
			return Value{}, err
		}
		return Value{typ: TypeObject, object: obj}, nil
	case '[':
		arr, err := arrayFromScanner(sc)
		if err != nil {
			return Value{}, err
		}
		return Value{typ: TypeArray, array: arr}, nil
	case '"':
		s, err := sc.ReadString()
		if err != nil {
			return Value{}, err
		}
		return NewStringValue(s), nil
	}

	if err := sc.ReadKeyword("true"); err == nil {
		return NewBoolValue(true), nil
	}
	if err := sc.ReadKeyword("false"); err == nil {
		return NewBoolValue(false), nil
	}
	if n, err := sc.ReadNumber(); err == nil {
		return NewIntValue(n), nil
	}
	return Value{}, varlinkerr.New("expected a JSON value")
}

// field is one name/value pair of an Object, kept in a slice sorted by
// name so lookups can binary search it the way the original driver's
// bsearch-backed field table does.
type field struct {
	name  string
	value Value
}

// Object is a refcounted JSON object: a set of name/value pairs sorted
// by field name. An Object starts life writable; once shared via Ref it
// becomes read-only, matching the "writable until shared" invariant.
type Object struct {
	refcount int
	fields   []field
	writable bool
	freed    bool
}

// NewObject returns a new, empty, writable Object with a refcount of 1.
func NewObject() *Object {
	return &Object{refcount: 1, writable: true}
}

// Ref takes a reference on o. Once an Object has been referenced more
// than once it is no longer writable: callers that need to keep
// building it up must do so before sharing it.
func (o *Object) Ref() *Object {
	o.checkLive()
	o.refcount++
	o.writable = false
	return o
}

// Unref releases a reference on o. It is a programming error to call
// Unref more times than the object has been referenced; doing so panics,
// matching the fatal nature of a double-free in the original driver.
func (o *Object) Unref() {
	o.checkLive()
	o.refcount--
	if o.refcount == 0 {
		for _, f := range o.fields {
			f.value.unref()
		}
		o.fields = nil
		o.freed = true
	}
}

func (o *Object) checkLive() {
	if o.freed {
		panic("wire: use of Object after its last reference was released")
	}
}

func (o *Object) searchField(name string) (int, bool) {
	idx := sort.Search(len(o.fields), func(i int) bool { return o.fields[i].name >= name })
	if idx < len(o.fields) && o.fields[idx].name == name {
		return idx, true
	}
	return idx, false
}

// insert replaces an existing field named name or inserts a new one at
// its sorted position, keeping o.fields sorted by name throughout.
func (o *Object) insert(name string, value Value) error {
	o.checkLive()
	if !o.writable {
		return varlinkerr.Newf("object is not writable: field %q", name)
	}
	idx, exists := o.searchField(name)
	if exists {
		o.fields[idx].value.unref()
		o.fields[idx].value = value
		return nil
	}
	o.fields = append(o.fields, field{})
	copy(o.fields[idx+1:], o.fields[idx:])
	o.fields[idx] = field{name: name, value: value}
	return nil
}

// SetBool, SetInt, and SetString set a field of the given scalar type.
func (o *Object) SetBool(name string, b bool) error     { return o.insert(name, NewBoolValue(b)) }
func (o *Object) SetInt(name string, i int64) error     { return o.insert(name, NewIntValue(i)) }
func (o *Object) SetString(name, s string) error        { return o.insert(name, NewStringValue(s)) }

// SetArray sets a field to a reference on array.
func (o *Object) SetArray(name string, array *Array) error {
	return o.insert(name, NewArrayValue(array))
}

// SetObject sets a field to a reference on nested.
func (o *Object) SetObject(name string, nested *Object) error {
	return o.insert(name, NewObjectValue(nested))
}

// GetBool, GetInt, GetString, GetArray, and GetObject look up a field by
// name and return its value, reporting whether it existed and whether
// it held the requested type.
func (o *Object) GetBool(name string) (value bool, ok bool) {
	idx, found := o.searchField(name)
	if !found {
		return false, false
	}
	return o.fields[idx].value.Bool()
}

func (o *Object) GetInt(name string) (value int64, ok bool) {
	idx, found := o.searchField(name)
	if !found {
		return 0, false
	}
	return o.fields[idx].value.Int()
}

func (o *Object) GetString(name string) (value string, ok bool) {
	idx, found := o.searchField(name)
	if !found {
		return "", false
	}
	return o.fields[idx].value.String()
}

func (o *Object) GetArray(name string) (*Array, bool) {
	idx, found := o.searchField(name)
	if !found {
		return nil, false
	}
	return o.fields[idx].value.Array()
}

func (o *Object) GetObject(name string) (*Object, bool) {
	idx, found := o.searchField(name)
	if !found {
		return nil, false
	}
	return o.fields[idx].value.Object()
}

// Has reports whether o has a field named name.
func (o *Object) Has(name string) bool {
	_, found := o.searchField(name)
	return found
}

// FieldNames returns the object's field names in sorted order.
func (o *Object) FieldNames() []string {
	names := make([]string, len(o.fields))
	for i, f := range o.fields {
		names[i] = f.name
	}
	return names
}

// NFields returns the number of fields in o.
func (o *Object) NFields() int { return len(o.fields) }

// WriteToBuffer serializes o in its canonical, sorted-field form.
func (o *Object) WriteToBuffer(buf *Buffer) error {
	if len(o.fields) == 0 {
		buf.WriteString("{}")
		return nil
	}
	buf.WriteByte('{')
	for i, f := range o.fields {
		if i != 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		writeEscapedString(buf, f.name)
		buf.WriteString("\":")
		if err := f.value.writeToBuffer(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// ToString serializes o to its canonical JSON text.
func (o *Object) ToString() (string, error) {
	buf := NewBuffer(32)
	if err := o.WriteToBuffer(buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// objectFromScanner parses a '{'-delimited object at the scanner's
// cursor. A field whose value is the `null` keyword is dropped rather
// than stored, matching "treat null the same as non-existent keys".
func objectFromScanner(sc *Scanner) (*Object, error) {
	if err := sc.ReadOperator("{"); err != nil {
		return nil, varlinkerr.Wrap(err, "expected object")
	}
	obj := NewObject()
	first := true
	for sc.Peek() != '}' {
		if !first {
			if err := sc.ReadOperator(","); err != nil {
				return nil, varlinkerr.Wrap(err, "expected ',' between object fields")
			}
		}
		first = false

		name, err := sc.ReadString()
		if err != nil {
			return nil, varlinkerr.Wrap(err, "expected field name")
		}
		if err := sc.ReadOperator(":"); err != nil {
			return nil, varlinkerr.Wrap(err, "expected ':' after field name")
		}

		if err := sc.ReadKeyword("null"); err == nil {
			continue
		}

		value, err := valueFromScanner(sc)
		if err != nil {
			return nil, varlinkerr.Wrapf(err, "invalid value for field %q", name)
		}
		if err := obj.insert(name, value); err != nil {
			return nil, err
		}
	}
	if err := sc.ReadOperator("}"); err != nil {
		return nil, varlinkerr.Wrap(err, "expected '}'")
	}
	return obj, nil
}

// NewObjectFromScanner parses an object at the scanner's cursor without
// requiring the scanner to be exhausted afterwards, for use when an
// object is embedded in a larger document.
func NewObjectFromScanner(sc *Scanner) (*Object, error) {
	return objectFromScanner(sc)
}

// NewObjectFromString parses s as a single complete JSON object, failing
// if any non-whitespace input follows the closing brace.
func NewObjectFromString(s string) (*Object, error) {
	sc := NewScanner(s, false)
	obj, err := objectFromScanner(sc)
	if err != nil {
		return nil, err
	}
	if !sc.AtEnd() {
		return nil, varlinkerr.New("trailing data after object")
	}
	return obj, nil
}

// ParseValue parses s as a single complete top-level value of any
// grammar kind (object, array, bool, string, or integer), failing if
// any non-whitespace input follows it. Unlike NewObjectFromString, the
// top-level value is not required to be an object.
func ParseValue(s string) (Value, error) {
	sc := NewScanner(s, false)
	value, err := valueFromScanner(sc)
	if err != nil {
		return Value{}, err
	}
	if !sc.AtEnd() {
		return Value{}, varlinkerr.New("trailing data after value")
	}
	return value, nil
}

// Array is a refcounted, homogeneous JSON array: every element shares
// the same Type, fixed by the first element appended or parsed.
type Array struct {
	refcount    int
	elementType Type
	hasType     bool
	elements    []Value
	writable    bool
	freed       bool
}

// NewArray returns a new, empty, writable Array with a refcount of 1.
func NewArray() *Array {
	return &Array{refcount: 1, writable: true}
}

// Ref takes a reference on a, making it read-only from then on.
func (a *Array) Ref() *Array {
	a.checkLive()
	a.refcount++
	a.writable = false
	return a
}

// Unref releases a reference on a.
func (a *Array) Unref() {
	a.checkLive()
	a.refcount--
	if a.refcount == 0 {
		for _, v := range a.elements {
			v.unref()
		}
		a.elements = nil
		a.freed = true
	}
}

func (a *Array) checkLive() {
	if a.freed {
		panic("wire: use of Array after its last reference was released")
	}
}

// ElementType returns the type shared by every element, valid only once
// the array holds at least one element.
func (a *Array) ElementType() (Type, bool) { return a.elementType, a.hasType }

// Len returns the number of elements in a.
func (a *Array) Len() int { return len(a.elements) }

func (a *Array) append(v Value) error {
	a.checkLive()
	if !a.writable {
		return varlinkerr.New("array is not writable")
	}
	if !a.hasType {
		a.elementType = v.Type()
		a.hasType = true
	} else if v.Type() != a.elementType {
		return varlinkerr.Newf("array holds %s elements, cannot append %s", a.elementType, v.Type())
	}
	a.elements = append(a.elements, v)
	return nil
}

// AppendBool, AppendInt, and AppendString append a scalar element.
func (a *Array) AppendBool(b bool) error     { return a.append(NewBoolValue(b)) }
func (a *Array) AppendInt(i int64) error     { return a.append(NewIntValue(i)) }
func (a *Array) AppendString(s string) error { return a.append(NewStringValue(s)) }

// AppendArray appends a reference to element.
func (a *Array) AppendArray(element *Array) error { return a.append(NewArrayValue(element)) }

// AppendObject appends a reference to object.
func (a *Array) AppendObject(object *Object) error { return a.append(NewObjectValue(object)) }

// GetBool, GetInt, GetString, GetArray, and GetObject return the element
// at index along with whether it existed and held the requested type.
func (a *Array) GetBool(index int) (bool, bool) {
	if index < 0 || index >= len(a.elements) {
		return false, false
	}
	return a.elements[index].Bool()
}

func (a *Array) GetInt(index int) (int64, bool) {
	if index < 0 || index >= len(a.elements) {
		return 0, false
	}
	return a.elements[index].Int()
}

func (a *Array) GetString(index int) (string, bool) {
	if index < 0 || index >= len(a.elements) {
		return "", false
	}
	return a.elements[index].String()
}

func (a *Array) GetArray(index int) (*Array, bool) {
	if index < 0 || index >= len(a.elements) {
		return nil, false
	}
	return a.elements[index].Array()
}

func (a *Array) GetObject(index int) (*Object, bool) {
	if index < 0 || index >= len(a.elements) {
		return nil, false
	}
	return a.elements[index].Object()
}

// WriteToBuffer serializes a to its canonical JSON text.
func (a *Array) WriteToBuffer(buf *Buffer) error {
	if len(a.elements) == 0 {
		buf.WriteString("[]")
		return nil
	}
	buf.WriteByte('[')
	for i, v := range a.elements {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := v.writeToBuffer(buf); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// arrayFromScanner parses a '['-delimited array at the scanner's cursor,
// enforcing that every element shares the first element's type.
func arrayFromScanner(sc *Scanner) (*Array, error) {
	if err := sc.ReadOperator("["); err != nil {
		return nil, varlinkerr.Wrap(err, "expected array")
	}
	arr := NewArray()
	first := true
	for sc.Peek() != ']' {
		if !first {
			if err := sc.ReadOperator(","); err != nil {
				return nil, varlinkerr.Wrap(err, "expected ',' between array elements")
			}
		}
		first = false

		value, err := valueFromScanner(sc)
		if err != nil {
			return nil, varlinkerr.Wrap(err, "invalid array element")
		}
		if err := arr.append(value); err != nil {
			return nil, err
		}
	}
	if err := sc.ReadOperator("]"); err != nil {
		return nil, varlinkerr.Wrap(err, "expected ']'")
	}
	return arr, nil
}
