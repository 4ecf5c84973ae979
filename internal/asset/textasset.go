package asset

import (
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/typetree"
)

// TextAsset is class 49: a name and an opaque byte payload.
type TextAsset struct {
	Name   string
	Script []byte

	src source
}

func (t *TextAsset) AssetName() string { return t.Name }
func (t *TextAsset) ClassID() int32    { return serialized.ClassTextAsset }

func decodeTextAsset(src source, _ Resources) (Decoded, error) {
	name, ok := src.value.String("m_Name")
	if !ok {
		return nil, missing("TextAsset", "m_Name")
	}
	script, ok := src.value.String("m_Script")
	if !ok {
		return nil, missing("TextAsset", "m_Script")
	}
	return &TextAsset{Name: name, Script: []byte(script), src: src}, nil
}

func (t *TextAsset) encode() ([]byte, []byte, error) {
	v := t.src.value
	if v == nil {
		return nil, nil, missing("TextAsset", "source layout")
	}
	out := &typetree.Struct{Type: v.Type, Fields: append([]typetree.Field(nil), v.Fields...)}
	out.Set("m_Name", t.Name)
	out.Set("m_Script", string(t.Script))
	data, err := typetree.Write(t.src.root, out, t.src.order)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}
