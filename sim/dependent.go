package sim

// Dependent is the shared core of states, actions and effects. Each has exactly one
// subject, the independent object that owns it.
type Dependent struct {
	Base
	subject Object
}

type dependentObject interface {
	Object
	dependent() *Dependent
}

func (d *Dependent) dependent() *Dependent { return d }

// Subject returns the owning object, or nil once detached.
func (d *Dependent) Subject() Object { return d.subject }

// Validate fails when the object has not been attached to a subject.
func (d *Dependent) Validate() error {
	if d.subject == nil {
		return ErrNoSubject
	}
	return nil
}

func (d *Dependent) subjectPaused() bool {
	return d.subject != nil && d.subject.Paused()
}

func (d *Dependent) kernelDestroy() {
	if d.subject == nil {
		return
	}
	if o, ok := d.subject.(owner); ok {
		o.independent().Disown(d.self)
	}
	d.subject = nil
}
