package typetree

// Field is a named member of a struct value.
type Field struct {
	Name  string
	Value any
}

// Struct is a decoded composite value. Fields keep their serialized order.
//
// Leaf values use Go types matching the field's declared width: bool, int8,
// uint8, int16, uint16, int32, uint32, int64, uint64, float32, float64,
// string, []byte for byte arrays and TypelessData, and []any for other
// arrays.
type Struct struct {
	Type   string
	Fields []Field
}

// Get returns the value of a direct field.
func (s *Struct) Get(name string) (any, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing field. It returns false if the field
// is absent.
func (s *Struct) Set(name string, v any) bool {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			s.Fields[i].Value = v
			return true
		}
	}
	return false
}

// String returns a string field.
func (s *Struct) String(name string) (string, bool) {
	v, ok := s.Get(name)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Bytes returns a byte array field.
func (s *Struct) Bytes(name string) ([]byte, bool) {
	v, ok := s.Get(name)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Struct returns a nested struct field.
func (s *Struct) Struct(name string) (*Struct, bool) {
	v, ok := s.Get(name)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Struct)
	return sub, ok
}

// Int returns any integer field widened to int64.
func (s *Struct) Int(name string) (int64, bool) {
	v, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// SetInt stores an integer into an existing field, converting it to the
// field's current width.
func (s *Struct) SetInt(name string, n int64) bool {
	v, ok := s.Get(name)
	if !ok {
		return false
	}
	switch v.(type) {
	case int8:
		return s.Set(name, int8(n))
	case uint8:
		return s.Set(name, uint8(n))
	case int16:
		return s.Set(name, int16(n))
	case uint16:
		return s.Set(name, uint16(n))
	case int32:
		return s.Set(name, int32(n))
	case uint32:
		return s.Set(name, uint32(n))
	case int64:
		return s.Set(name, n)
	case uint64:
		return s.Set(name, uint64(n))
	}
	return false
}
