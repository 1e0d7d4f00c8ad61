package oslec

import "math/bits"

/*------------------------------------------------------------------
 *
 * Name:        top_bit
 *
 * Purpose:     Find the position of the highest set bit.
 *
 * Inputs:	x	- Value to scan.
 *
 * Returns:	Zero based index of the most significant set bit.
 *		0 when no bit is set.
 *
 * Description:	The C original walks the word with a bisection ladder.
 *		Go has a compiler intrinsic for this, so use it.
 *
 *----------------------------------------------------------------*/

func top_bit(x uint32) int {
	if x == 0 {
		return 0
	}
	return bits.Len32(x) - 1
}
