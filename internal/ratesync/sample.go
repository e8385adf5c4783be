package ratesync

import "fmt"

// SampleBlocks returns the blocks at which rates are read between from and to (inclusive):
// the last block of every step-sized window, so the final window may be shorter.
func SampleBlocks(from, to, step uint64) ([]uint64, error) {
	if step == 0 {
		return nil, fmt.Errorf("step must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	blocks := make([]uint64, 0, (to-from)/step+1)
	for start := from; ; {
		end := to
		if to-start >= step {
			end = start + step - 1
		}
		blocks = append(blocks, end)
		if end == to {
			return blocks, nil
		}
		start = end + 1
	}
}
