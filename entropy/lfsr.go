package entropy

// lfsrSeed is the canonical 63-bit corrector seed.
const lfsrSeed = 0xAAAAAAAAAAAAAAAA & (1<<63 - 1)

// lfsrCorrector is a 63-bit whitening LFSR with feedback taps at bit
// positions {0, 13, 30, 37, 48}. Each step shifts the register right by one
// and inserts out XOR in at bit 62.
type lfsrCorrector struct {
	register uint64
}

func newLfsrCorrector() *lfsrCorrector {
	return &lfsrCorrector{register: lfsrSeed}
}

func (c *lfsrCorrector) NextBit(inBit uint64) uint64 {
	r := c.register
	outBit := (r>>48 ^ r>>37 ^ r>>30 ^ r>>13 ^ r) & 1
	c.register >>= 1
	c.register |= (outBit ^ inBit&1) << 62
	return outBit
}
