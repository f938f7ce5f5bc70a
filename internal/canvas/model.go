package canvas

import "fmt"

// Model is the object set of one canvas view, kept in insertion order.
// It is not safe for concurrent use; owners serialize access.
type Model struct {
	objects map[string]Object
	order   []string
}

// NewModel returns an empty model
func NewModel() *Model {
	return &Model{
		objects: make(map[string]Object),
		order:   make([]string, 0),
	}
}

// Add inserts obj. An id that is already present is rejected and the model
// is left unchanged.
func (m *Model) Add(obj Object) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	if _, exists := m.objects[obj.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateObjectID, obj.ID)
	}
	m.objects[obj.ID] = obj.Clone()
	m.order = append(m.order, obj.ID)
	return nil
}

// Get returns a copy of the object with the given id
func (m *Model) Get(id string) (Object, bool) {
	obj, ok := m.objects[id]
	if !ok {
		return Object{}, false
	}
	return obj.Clone(), true
}

// Has reports whether id is present
func (m *Model) Has(id string) bool {
	_, ok := m.objects[id]
	return ok
}

// Modify merges p into the object with the given id and returns the new state
func (m *Model) Modify(id string, p Patch) (Object, error) {
	obj, ok := m.objects[id]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrUnknownTargetObject, id)
	}
	updated := p.ApplyTo(obj)
	m.objects[id] = updated
	return updated.Clone(), nil
}

// Remove deletes the object with the given id and returns its last state
func (m *Model) Remove(id string) (Object, error) {
	obj, ok := m.objects[id]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrUnknownTargetObject, id)
	}
	delete(m.objects, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return obj, nil
}

// Clear removes every object and returns how many were dropped
func (m *Model) Clear() int {
	n := len(m.order)
	m.objects = make(map[string]Object)
	m.order = make([]string, 0)
	return n
}

// Reset replaces the whole content with objs. Duplicates after the first
// occurrence are skipped.
func (m *Model) Reset(objs []Object) {
	m.Clear()
	for _, obj := range objs {
		_ = m.Add(obj)
	}
}

// Objects returns copies of all objects in insertion order
func (m *Model) Objects() []Object {
	objs := make([]Object, 0, len(m.order))
	for _, id := range m.order {
		objs = append(objs, m.objects[id].Clone())
	}
	return objs
}

// Len returns the number of objects
func (m *Model) Len() int {
	return len(m.order)
}
