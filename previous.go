package tigres

import "fmt"

// PreviousRef is a dependency reference placed among input values. It
// is resolved against the program's work tree right before the work
// unit that carries it becomes READY.
//
// The builders cover the reference forms:
//
//	Previous()                       all results of the previous work
//	Previous().I()                   element matching the unit's own index
//	Previous().At(n)                 element n
//	PreviousNamed("w")               all results of work "w"
//	PreviousNamed("w").I()           element matching the unit's own index
//	PreviousNamed("w").At(n)         element n
//
// Builder errors are remembered and surface when the reference is
// resolved, so chains stay single-expression.
type PreviousRef struct {
	workName string
	indexed  bool
	index    int
	hasIndex bool
	err      error
}

// Previous references the results of the work executed immediately
// before the referencing unit.
func Previous() *PreviousRef {
	return &PreviousRef{}
}

// PreviousNamed references the results of the work registered under
// name.
func PreviousNamed(name string) *PreviousRef {
	r := &PreviousRef{workName: name}
	if name == "" {
		r.err = previousSyntaxErrorf("previous reference with empty work name")
	}
	return r
}

// I narrows the reference to the element whose position matches the
// referencing unit's own index within its template.
func (r *PreviousRef) I() *PreviousRef {
	r.indexed = true
	return r
}

// At narrows the reference to element n of the referenced results.
func (r *PreviousRef) At(n int) *PreviousRef {
	r.indexed = true
	r.hasIndex = true
	r.index = n
	if n < 0 && r.err == nil {
		r.err = previousSyntaxErrorf("previous reference index %d is negative", n)
	}
	return r
}

// String formats the reference the way it reads in a workflow
// description.
func (r *PreviousRef) String() string {
	s := "PREVIOUS"
	if r.workName != "" {
		s += "." + r.workName
	}
	if r.indexed {
		if r.hasIndex {
			s += fmt.Sprintf(".i[%d]", r.index)
		} else {
			s += ".i"
		}
	}
	return s
}

// resolve evaluates the reference for the unit at workIndex within its
// template.
func (r *PreviousRef) resolve(p *Program, workIndex int) (interface{}, error) {
	if r.err != nil {
		return nil, r.err
	}
	src, err := r.sourceWork(p)
	if err != nil {
		return nil, err
	}
	results := src.Results()
	if !r.indexed {
		return results, nil
	}
	list, ok := results.([]interface{})
	if !ok {
		return nil, previousSyntaxErrorf(
			"previous work %s results are not a list, cannot index into %v", src.Name(), results)
	}
	idx := workIndex
	if r.hasIndex {
		idx = r.index
	}
	if idx < 0 || idx >= len(list) {
		return nil, previousSyntaxErrorf(
			"cannot find the input for index %d and previous work %s", idx, src.Name())
	}
	return list[idx], nil
}

func (r *PreviousRef) sourceWork(p *Program) (Work, error) {
	if r.workName == "" {
		return p.previousWork()
	}
	matches := p.workByName(r.workName)
	switch len(matches) {
	case 0:
		return nil, previousSyntaxErrorf("previous reference to unknown work %q", r.workName)
	case 1:
		return matches[0], nil
	}
	return nil, previousSyntaxErrorf(
		"previous reference to %q is ambiguous, %d work items share the name", r.workName, len(matches))
}
