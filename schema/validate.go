package schema

import "fmt"

// validateAnnotations checks that every node predicate names fields that
// exist on the entity it is evaluated against.
func (m *Model) validateAnnotations() error {
	for _, e := range m.Entities {
		if err := m.checkAnnotations(e, e.Name, e.Annotations); err != nil {
			return err
		}
		for _, a := range e.Attributes {
			if err := m.checkAnnotations(e, e.Name+"."+a.Name, a.Annotations); err != nil {
				return err
			}
		}
		for _, r := range e.Relationships {
			if err := m.checkAnnotations(e, e.Name+"."+r.Name, r.Annotations); err != nil {
				return err
			}
		}
		for _, c := range e.Computed {
			if err := m.checkAnnotations(e, e.Name+"."+c.Name, c.Annotations); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Model) checkAnnotations(e *ConcreteEntity, where string, ann Annotations) error {
	if az := ann.Authorization; az != nil {
		for _, r := range az.Filter {
			if err := m.checkPredicate(e, r.Where); err != nil {
				return fmt.Errorf("%w (in @authorization on %s)", err, where)
			}
		}
		for _, r := range az.Validate {
			if err := m.checkPredicate(e, r.Where); err != nil {
				return fmt.Errorf("%w (in @authorization on %s)", err, where)
			}
		}
	}
	if sa := ann.SubscriptionsAuthorization; sa != nil {
		for _, r := range sa.Filter {
			if err := m.checkPredicate(e, r.Where); err != nil {
				return fmt.Errorf("%w (in @subscriptionsAuthorization on %s)", err, where)
			}
		}
	}
	return nil
}

func (m *Model) checkPredicate(e *ConcreteEntity, p Predicate) error {
	if p.Node != nil {
		if err := m.checkFilter(e, *p.Node); err != nil {
			return err
		}
	}
	for _, sub := range p.And {
		if err := m.checkPredicate(e, sub); err != nil {
			return err
		}
	}
	for _, sub := range p.Or {
		if err := m.checkPredicate(e, sub); err != nil {
			return err
		}
	}
	if p.Not != nil {
		return m.checkPredicate(e, *p.Not)
	}
	return nil
}

func (m *Model) checkFilter(e *ConcreteEntity, f Filter) error {
	for _, c := range f.Conditions {
		if c.IsRelationship() {
			rel, ok := e.Relationship(c.Field)
			if !ok {
				return fmt.Errorf("%w: predicate references unknown relationship %s.%s", ErrInvalidSchema, e.Name, c.Field)
			}
			// composite members differ in fields; only concrete targets are checked
			if target, ok := m.entities[rel.Target]; ok {
				if err := m.checkFilter(target, *c.Nested); err != nil {
					return err
				}
			}
			continue
		}
		if _, ok := e.Attribute(c.Field); !ok {
			return fmt.Errorf("%w: predicate references unknown field %s.%s", ErrInvalidSchema, e.Name, c.Field)
		}
	}
	for _, sub := range f.And {
		if err := m.checkFilter(e, sub); err != nil {
			return err
		}
	}
	for _, sub := range f.Or {
		if err := m.checkFilter(e, sub); err != nil {
			return err
		}
	}
	if f.Not != nil {
		return m.checkFilter(e, *f.Not)
	}
	return nil
}
