package handlers

import (
	"github.com/pkg/errors"

	"capdissector/internal/field"
	"capdissector/internal/models"
	"capdissector/internal/packet"
)

var (
	errNoParent = errors.New("parent field not found")
	errNoBlob   = errors.New("blob not found")
)

func fieldInfo(f *field.Field) models.FieldInfo {
	return models.FieldInfo{
		Ordinal:      f.Ordinal,
		Name:         f.Name,
		DisplayName:  f.DisplayName,
		DisplayValue: f.DisplayValue,
		Protocol:     f.IsProtocol,
		Parent:       f.ParentID,
		Offset:       f.Offset,
		Length:       f.Length,
		Source:       f.SourceID,
	}
}

// findFields runs q against p. Without a name every field is returned.
func findFields(p *packet.Packet, q models.FieldQuery) ([]models.FieldInfo, error) {
	var name []string
	if q.Name != "" {
		name = []string{q.Name}
	}
	out := []models.FieldInfo{}
	collect := func(f *field.Field) error {
		out = append(out, fieldInfo(f))
		return nil
	}

	if q.Parent == nil {
		if err := p.EachField(collect, name...); err != nil {
			return nil, err
		}
		return out, nil
	}
	parent, ok := p.Field(*q.Parent)
	if !ok {
		return nil, errors.Wrapf(errNoParent, "ordinal %d", *q.Parent)
	}
	if err := p.EachDescendantField(parent, collect, name...); err != nil {
		return nil, err
	}
	return out, nil
}
