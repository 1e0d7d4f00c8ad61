package oslec

/*------------------------------------------------------------------
 *
 * Name:	UpdateFrame
 *
 * Purpose:	Run the canceller over a whole frame of samples.
 *
 * Inputs:	tx	- Far end reference frame.
 *		rx	- Near end capture frame.
 *
 * Outputs:	out	- Cleaned near end frame.
 *
 * Returns:	Number of samples processed, the shortest of the three
 *		slice lengths.
 *
 * Description:	Hosts work in 10ms frames but the canceller itself is
 *		strictly sample by sample, so this is just the loop.
 *		Nothing is allocated here.
 *
 *----------------------------------------------------------------*/

func (ec *State) UpdateFrame(tx []int16, rx []int16, out []int16) int {
	var n = len(tx)
	if len(rx) < n {
		n = len(rx)
	}
	if len(out) < n {
		n = len(out)
	}

	for i := 0; i < n; i++ {
		out[i] = ec.Update(tx[i], rx[i])
	}

	return n
}
