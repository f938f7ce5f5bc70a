package protocol

import (
	"errors"
	"fmt"

	"drawing-board/internal/canvas"
)

// Version is the current operation payload version
const Version = 1

var ErrMalformedOperation = errors.New("malformed operation")

// OpKind tags the operation variant
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpModify OpKind = "modify"
	OpRemove OpKind = "remove"
	OpClear  OpKind = "clear"
)

// Operation is the unit of synchronized canvas change. Only the fields of
// its own kind may be set:
//
//	add     Objects
//	modify  Target, Patch
//	remove  Targets
//	clear   (none)
type Operation struct {
	Version int             `json:"v"`
	OpID    string          `json:"opId"`
	Kind    OpKind          `json:"kind"`
	Objects []canvas.Object `json:"objects,omitempty"`
	Target  string          `json:"target,omitempty"`
	Targets []string        `json:"targets,omitempty"`
	Patch   *canvas.Patch   `json:"patch,omitempty"`
}

// NewAdd returns an add operation for objs
func NewAdd(opID string, objs ...canvas.Object) Operation {
	return Operation{Version: Version, OpID: opID, Kind: OpAdd, Objects: canvas.CloneAll(objs)}
}

// NewModify returns a modify operation merging p into target
func NewModify(opID, target string, p canvas.Patch) Operation {
	return Operation{Version: Version, OpID: opID, Kind: OpModify, Target: target, Patch: &p}
}

// NewRemove returns a remove operation for the given ids
func NewRemove(opID string, targets ...string) Operation {
	return Operation{Version: Version, OpID: opID, Kind: OpRemove, Targets: append([]string(nil), targets...)}
}

// NewClear returns a clear operation
func NewClear(opID string) Operation {
	return Operation{Version: Version, OpID: opID, Kind: OpClear}
}

// TargetIDs returns the object ids an operation refers to
func (op Operation) TargetIDs() []string {
	switch op.Kind {
	case OpAdd:
		return canvas.IDs(op.Objects)
	case OpModify:
		return []string{op.Target}
	case OpRemove:
		return op.Targets
	}
	return nil
}

// Validate rejects operations that do not match the shape of their tag
func (op Operation) Validate() error {
	if op.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedOperation, op.Version)
	}
	if op.OpID == "" {
		return fmt.Errorf("%w: missing opId", ErrMalformedOperation)
	}

	switch op.Kind {
	case OpAdd:
		if len(op.Objects) == 0 {
			return fmt.Errorf("%w: add without objects", ErrMalformedOperation)
		}
		if op.Target != "" || len(op.Targets) > 0 || op.Patch != nil {
			return fmt.Errorf("%w: add carries foreign fields", ErrMalformedOperation)
		}
		seen := make(map[string]bool, len(op.Objects))
		for _, obj := range op.Objects {
			if err := obj.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedOperation, err)
			}
			if seen[obj.ID] {
				return fmt.Errorf("%w: object %s added twice", ErrMalformedOperation, obj.ID)
			}
			seen[obj.ID] = true
		}

	case OpModify:
		if op.Target == "" {
			return fmt.Errorf("%w: modify without target", ErrMalformedOperation)
		}
		if op.Patch == nil || op.Patch.Empty() {
			return fmt.Errorf("%w: modify without patch", ErrMalformedOperation)
		}
		if len(op.Objects) > 0 || len(op.Targets) > 0 {
			return fmt.Errorf("%w: modify carries foreign fields", ErrMalformedOperation)
		}

	case OpRemove:
		if len(op.Targets) == 0 {
			return fmt.Errorf("%w: remove without targets", ErrMalformedOperation)
		}
		if len(op.Objects) > 0 || op.Target != "" || op.Patch != nil {
			return fmt.Errorf("%w: remove carries foreign fields", ErrMalformedOperation)
		}
		for _, id := range op.Targets {
			if id == "" {
				return fmt.Errorf("%w: empty remove target", ErrMalformedOperation)
			}
		}

	case OpClear:
		if len(op.Objects) > 0 || op.Target != "" || len(op.Targets) > 0 || op.Patch != nil {
			return fmt.Errorf("%w: clear carries a payload", ErrMalformedOperation)
		}

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedOperation, op.Kind)
	}
	return nil
}

// Result describes what applying an operation changed
type Result struct {
	Added    []canvas.Object
	Modified []canvas.Object
	Removed  []string
	Cleared  bool
}

// Changed reports whether the model was touched
func (r Result) Changed() bool {
	return r.Cleared || len(r.Added) > 0 || len(r.Modified) > 0 || len(r.Removed) > 0
}

// Apply applies op to m. An add is all or nothing: if any of its ids is
// already on the canvas none of its objects is added. Unknown modify and
// remove targets are skipped. Both are reported through the returned error,
// which the caller only logs.
func Apply(m *canvas.Model, op Operation) (Result, error) {
	var res Result
	if err := op.Validate(); err != nil {
		return res, err
	}

	var errs []error
	switch op.Kind {
	case OpAdd:
		for _, obj := range op.Objects {
			if m.Has(obj.ID) {
				errs = append(errs, fmt.Errorf("%w: %s", canvas.ErrDuplicateObjectID, obj.ID))
			}
		}
		if len(errs) > 0 {
			break
		}
		for _, obj := range op.Objects {
			if err := m.Add(obj); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Added = append(res.Added, obj.Clone())
		}

	case OpModify:
		obj, err := m.Modify(op.Target, *op.Patch)
		if err != nil {
			errs = append(errs, err)
		} else {
			res.Modified = append(res.Modified, obj)
		}

	case OpRemove:
		for _, id := range op.Targets {
			if _, err := m.Remove(id); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Removed = append(res.Removed, id)
		}

	case OpClear:
		m.Clear()
		res.Cleared = true
	}
	return res, errors.Join(errs...)
}
