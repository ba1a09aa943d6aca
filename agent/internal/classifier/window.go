package classifier

// window is a fixed-capacity FIFO of RTT samples. Once full, every insert
// overwrites the oldest value in place so no allocation happens per sample.
type window struct {
	values []float64
	next   int // slot the next value goes into once the window is full
}

func newWindow(size int) *window {
	return &window{values: make([]float64, 0, size)}
}

// Len returns the number of samples currently held.
func (w *window) Len() int {
	return len(w.values)
}

// Add appends v, evicting the oldest sample when the window is full.
func (w *window) Add(v float64) {
	if len(w.values) < cap(w.values) {
		w.values = append(w.values, v)
		return
	}
	w.values[w.next] = v
	w.next++
	if w.next >= cap(w.values) {
		w.next = 0
	}
}

// Values returns a copy of the samples, oldest first.
func (w *window) Values() []float64 {
	out := make([]float64, 0, len(w.values))
	out = append(out, w.values[w.next:]...)
	out = append(out, w.values[:w.next]...)
	return out
}

// Clear drops every sample, keeping the allocated capacity.
func (w *window) Clear() {
	w.values = w.values[:0]
	w.next = 0
}
