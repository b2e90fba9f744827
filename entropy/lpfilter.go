package entropy

// lpFilter is a first-order exponential low-pass filter. The length
// parameter of Feed is the time constant in samples: larger values react
// slower to new input.
type lpFilter struct {
	value float64
}

func (f *lpFilter) Init(initVal float64) {
	f.value = initVal
}

func (f *lpFilter) Feed(newVal, length float64) float64 {
	f.value += (newVal - f.value) / length
	return f.value
}

func (f *lpFilter) Value() float64 {
	return f.value
}
