package ltree

//IntIterable is the interface for iteration over a collection of node indices.
type IntIterable interface {
	HasNext() bool
	GetNext() int
	Len() int
}

//Range is an iterator over half interval [begin, end) with the step step.
type Range struct {
	begin, end, step, pos int
}

//NewRange initializes a new iterator over a half interval.
func NewRange(start, end, step int) *Range {
	return &Range{start, end, step, start}
}

//LayerRange iterates over the node indices of one tree layer. Layers are numbered from 1,
//layer d holds the nodes [2^(d-1)-1, 2^d-1).
func LayerRange(layer int) IntIterable {
	if layer < 1 {
		return NewRange(0, 0, 1)
	}
	return NewRange(LayerStart(layer), LayerStart(layer+1), 1)
}

//LayerStart is the index of the first node of a layer.
func LayerStart(layer int) int {
	return 1<<(layer-1) - 1
}

//GetNext returns the next element from the iterator and moves iterator to the next position.
func (r *Range) GetNext() int {
	val := r.pos
	r.pos += r.step
	return val
}

//HasNext checks whether there are more values in the iterator.
func (r *Range) HasNext() bool {
	if r.step > 0 {
		return r.pos < r.end
	}
	return r.pos > r.end
}

//Len returns the total number of values of the interval.
func (r *Range) Len() int {
	if r.step > 0 {
		if r.end <= r.begin {
			return 0
		}
		return (r.end - r.begin + r.step - 1) / r.step
	}
	if r.begin <= r.end {
		return 0
	}
	return (r.begin - r.end - r.step - 1) / -r.step
}
