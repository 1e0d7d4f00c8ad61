package oslec

/*------------------------------------------------------------------
 *
 * Purpose:	16 bit fixed point FIR filter with a circular history
 *		buffer.  Two of these, sharing one set of write cursor
 *		semantics, make up the dual path canceller.
 *
 * Description:	The coefficient slice is owned by the caller.  The
 *		echo canceller points both filters at slices it owns
 *		and swaps the foreground slice in before each run, so
 *		a coefficient copy elsewhere is picked up immediately.
 *
 *----------------------------------------------------------------*/

/* Q15 coefficients against Q15 history, 32 bit accumulation. */

type fir16_state_t struct {
	taps     int     /* Filter length. */
	curr_pos int     /* Next history slot to be written. */
	coeffs   []int16 /* Not owned.  May be repointed between samples. */
	history  []int16
}

/*------------------------------------------------------------------
 *
 * Name:	fir16_create
 *
 * Purpose:	Set up a filter state for the given coefficient slice.
 *
 * Inputs:	fir	- State to initialise.
 *		coeffs	- Coefficient slice, length taps.
 *		taps	- Filter length.
 *
 *----------------------------------------------------------------*/

func fir16_create(fir *fir16_state_t, coeffs []int16, taps int) {
	fir.taps = taps
	fir.curr_pos = taps - 1
	fir.coeffs = coeffs
	fir.history = make([]int16, taps)
}

/*------------------------------------------------------------------
 *
 * Name:	fir16_flush
 *
 * Purpose:	Zero the history.  The cursor is left where it is;
 *		the owner resets cursors when it resets its own.
 *
 *----------------------------------------------------------------*/

func fir16_flush(fir *fir16_state_t) {
	for i := range fir.history {
		fir.history[i] = 0
	}
}

/*------------------------------------------------------------------
 *
 * Name:	fir16
 *
 * Purpose:	Push one sample through the filter.
 *
 * Inputs:	fir	- Filter state.
 *		sample	- New input sample.
 *
 * Returns:	Convolution output, truncated back to Q15.
 *
 * Description:	The new sample lands on curr_pos and the kernel is
 *		applied in two runs either side of the wrap point.
 *		The cursor then steps backwards through the buffer,
 *		wrapping from 0 back to taps-1.
 *
 *----------------------------------------------------------------*/

func fir16(fir *fir16_state_t, sample int16) int16 {
	fir.history[fir.curr_pos] = sample

	var offset2 = fir.curr_pos
	var offset1 = fir.taps - offset2

	var y int32
	var i = fir.taps - 1
	for ; i >= offset1; i-- {
		y += int32(fir.coeffs[i]) * int32(fir.history[i-offset1])
	}
	for ; i >= 0; i-- {
		y += int32(fir.coeffs[i]) * int32(fir.history[i+offset2])
	}

	if fir.curr_pos <= 0 {
		fir.curr_pos = fir.taps
	}
	fir.curr_pos--

	return int16(y >> 15)
}
