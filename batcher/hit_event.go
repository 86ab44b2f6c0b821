package batcher

// HitEvent represents one visit of a redirect key.
type HitEvent struct {
	Key string
}

// Window maps redirect keys to the visits counted since the window opened.
type Window map[string]int64

// Add counts one visit of key.
func (w Window) Add(key string) {
	w[key]++
}

// Hits returns the total number of visits in the window.
func (w Window) Hits() int64 {
	var total int64
	for _, n := range w {
		total += n
	}
	return total
}
