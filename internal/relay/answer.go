package relay

// Answer is what the relay sends back for one turn: either a single element
// or an ordered list. Each element is literal text or a media URL.
type Answer struct {
	elements []string
	multi    bool
}

// Single builds a one-element answer.
func Single(element string) Answer {
	return Answer{elements: []string{element}}
}

// Multi builds a list answer.
func Multi(elements ...string) Answer {
	cp := make([]string, len(elements))
	copy(cp, elements)
	return Answer{elements: cp, multi: true}
}

// NewAnswer picks the variant from the number of elements.
func NewAnswer(elements []string) Answer {
	if len(elements) == 1 {
		return Single(elements[0])
	}
	return Multi(elements...)
}

// IsSingle reports whether the answer is the single-element variant.
func (a Answer) IsSingle() bool { return !a.multi }

// IsZero reports whether the answer carries nothing to deliver.
func (a Answer) IsZero() bool { return len(a.elements) == 0 }

// Elements returns a copy of the answer elements in delivery order.
func (a Answer) Elements() []string {
	out := make([]string, len(a.elements))
	copy(out, a.elements)
	return out
}
