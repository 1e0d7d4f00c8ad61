// Package oslec is a Go port of the OSLEC line echo canceller, a G.168
// style dual path LMS canceller originally written for the Zaptel/DAHDI
// telephony stack.
package oslec

import (
	"fmt"
)

const (
	DC_LOG2BETA               = 3   /* log2() of the DC filter Beta */
	MIN_TX_POWER_FOR_ADAPTION = 64  /* Don't adapt against silence. */
	MIN_RX_POWER_FOR_ADAPTION = 64  /* Near end below this can't be double talk. */
	DTD_HANGOVER              = 600 /* 600 samples, or 75ms at 8kHz. */
)

/* Adaption mode flags.  Same bit assignment as the C header. */

const (
	ECHO_CAN_USE_ADAPTION = 0x01
	ECHO_CAN_USE_NLP      = 0x02
	ECHO_CAN_USE_CNG      = 0x04
	ECHO_CAN_USE_CLIP     = 0x08
	ECHO_CAN_USE_TX_HPF   = 0x10
	ECHO_CAN_USE_RX_HPF   = 0x20
	ECHO_CAN_DISABLE      = 0x40
)

/*
 * Working state for one canceller instance.  Strictly single threaded;
 * one instance belongs to one audio worker and every field is touched
 * only from Update and friends.
 *
 * Fixed point widths matter here.  Accumulators that the C original
 * keeps in a 32 bit int stay int32 so that overflow wraps the same way.
 */

type State struct {
	tx, rx    int16 /* Last raw input samples. */
	clean     int16 /* Last foreground residual. */
	clean_nlp int16 /* Last post NLP output. */

	nonupdate_dwell int /* Double talk hangover countdown. */
	curr_pos        int /* Shared history write cursor. */
	taps            int
	log2taps        int
	adaption_mode   int

	cond_met int   /* Consecutive samples the transfer condition held. */
	Pstates  int32 /* Running block power of the filter states. */
	adapt    int16 /* Set on samples where a tap transfer happened. */
	factor   int32 /* Last LMS scale factor. */
	shift    int16 /* Last LMS step size exponent. */

	/* Short term average levels, single pole IIRs on absolute value. */
	Ltxacc, Lrxacc, Lcleanacc, Lclean_bgacc int32
	Ltx, Lrx                                int32
	Lclean                                  int32
	Lclean_bg                               int32

	/* Background noise level tracker, gated on quiet residual. */
	Lbgn, Lbgn_acc, Lbgn_upper, Lbgn_upper_acc int32

	/* Foreground and background filters.  Taps are owned here; the
	   filter states borrow them. */
	fir_state    fir16_state_t
	fir_state_bg fir16_state_t
	fir_taps16   [2][]int16

	/* DC blocking filter states, one pair per direction. */
	tx_1, tx_2, rx_1, rx_2 int32

	/* Comfort noise generator. */
	cng_level  int32
	cng_rndnum int32
	cng_filter int32

	/* Copy of the foreground taps, taken on request for inspection. */
	snapshot []int16
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

/*------------------------------------------------------------------
 *
 * Name:	lms_adapt_bg
 *
 * Purpose:	One LMS step on the background filter taps.
 *
 * Inputs:	ec	- Canceller state.
 *		clean	- Background residual for this sample.
 *		shift	- Step size exponent, from the block power.
 *
 * Description:	Each tap moves by the history sample it is aligned
 *		with times the scaled residual, rounded back to Q15.
 *		The history is walked in the same two runs as the
 *		convolution so tap i always meets its own sample.
 *		Tap overflow wraps; the transfer logic keeps a filter
 *		that has wrapped itself useless out of the foreground.
 *
 *----------------------------------------------------------------*/

func lms_adapt_bg(ec *State, clean int32, shift int) {
	var factor int32
	if shift > 0 {
		factor = clean << shift
	} else {
		factor = clean >> -shift
	}
	ec.factor = factor

	var offset2 = ec.curr_pos
	var offset1 = ec.taps - offset2

	var i = ec.taps - 1
	for ; i >= offset1; i-- {
		var exp = int32(ec.fir_state_bg.history[i-offset1]) * factor
		ec.fir_taps16[1][i] += int16((exp + (1 << 14)) >> 15)
	}
	for ; i >= 0; i-- {
		var exp = int32(ec.fir_state_bg.history[i+offset2]) * factor
		ec.fir_taps16[1][i] += int16((exp + (1 << 14)) >> 15)
	}
}

/*------------------------------------------------------------------
 *
 * Name:	Create
 *
 * Purpose:	Allocate and initialise a canceller.
 *
 * Inputs:	taps		- Filter length in samples.  Powers of
 *				  two behave best; anything positive
 *				  is accepted and log2 is floored.
 *		adaption_mode	- Bitwise OR of the ECHO_CAN_* flags.
 *
 * Returns:	New instance, or an error for a non positive length.
 *
 *----------------------------------------------------------------*/

func Create(taps int, adaption_mode int) (*State, error) {
	if taps <= 0 {
		return nil, fmt.Errorf("oslec: filter length must be positive, got %d", taps)
	}

	var ec = new(State)

	ec.taps = taps
	ec.log2taps = top_bit(uint32(taps))
	ec.curr_pos = taps - 1

	for i := 0; i < 2; i++ {
		ec.fir_taps16[i] = make([]int16, taps)
	}
	fir16_create(&ec.fir_state, ec.fir_taps16[0], taps)
	fir16_create(&ec.fir_state_bg, ec.fir_taps16[1], taps)

	/* cng_level starts at 1000 and is replaced by the background
	   noise estimate the first time comfort noise is produced.
	   cng_rndnum starts at zero, which makes the generated noise
	   reproducible run to run. */
	ec.cng_level = 1000

	ec.AdaptionMode(adaption_mode)

	ec.snapshot = make([]int16, taps)

	ec.Lbgn_upper = 200
	ec.Lbgn_upper_acc = ec.Lbgn_upper << 13

	return ec, nil
}

/*------------------------------------------------------------------
 *
 * Name:	Free
 *
 * Purpose:	Release the owned buffers.  The instance must not be
 *		used afterwards.
 *
 *----------------------------------------------------------------*/

func (ec *State) Free() {
	ec.fir_state.coeffs = nil
	ec.fir_state.history = nil
	ec.fir_state_bg.coeffs = nil
	ec.fir_state_bg.history = nil
	ec.fir_taps16[0] = nil
	ec.fir_taps16[1] = nil
	ec.snapshot = nil
}

/*------------------------------------------------------------------
 *
 * Name:	AdaptionMode
 *
 * Purpose:	Replace the adaption mode flags.  Takes effect on the
 *		next Update.
 *
 *----------------------------------------------------------------*/

func (ec *State) AdaptionMode(adaption_mode int) {
	ec.adaption_mode = adaption_mode
}

/*------------------------------------------------------------------
 *
 * Name:	Flush
 *
 * Purpose:	Return all runtime state to its post Create values.
 *		The filter length, adaption mode and snapshot buffer
 *		are kept.
 *
 * Description:	Two instances with the same configuration produce bit
 *		identical output for the same input stream after a
 *		Flush, so everything mutable gets reset here including
 *		the comfort noise generator.
 *
 *----------------------------------------------------------------*/

func (ec *State) Flush() {
	ec.tx = 0
	ec.rx = 0
	ec.clean = 0
	ec.clean_nlp = 0

	ec.Ltxacc = 0
	ec.Lrxacc = 0
	ec.Lcleanacc = 0
	ec.Lclean_bgacc = 0
	ec.Ltx = 0
	ec.Lrx = 0
	ec.Lclean = 0
	ec.Lclean_bg = 0
	ec.tx_1 = 0
	ec.tx_2 = 0
	ec.rx_1 = 0
	ec.rx_2 = 0

	ec.Lbgn = 0
	ec.Lbgn_acc = 0
	ec.Lbgn_upper = 200
	ec.Lbgn_upper_acc = ec.Lbgn_upper << 13

	ec.nonupdate_dwell = 0
	ec.cond_met = 0
	ec.adapt = 0
	ec.factor = 0
	ec.shift = 0

	ec.cng_level = 1000
	ec.cng_rndnum = 0
	ec.cng_filter = 0

	fir16_flush(&ec.fir_state)
	fir16_flush(&ec.fir_state_bg)
	ec.fir_state.curr_pos = ec.taps - 1
	ec.fir_state_bg.curr_pos = ec.taps - 1
	for i := 0; i < 2; i++ {
		for j := range ec.fir_taps16[i] {
			ec.fir_taps16[i][j] = 0
		}
	}

	ec.curr_pos = ec.taps - 1
	ec.Pstates = 0
}

/*------------------------------------------------------------------
 *
 * Name:	Snapshot
 *
 * Purpose:	Copy the foreground taps into the snapshot buffer for
 *		inspection.  Handy while watching convergence.
 *
 * Returns:	The snapshot buffer.  Valid until the next Snapshot.
 *
 *----------------------------------------------------------------*/

func (ec *State) Snapshot() []int16 {
	copy(ec.snapshot, ec.fir_taps16[0])
	return ec.snapshot
}

/* Dual Path Echo Canceller ------------------------------------------------*/

/*------------------------------------------------------------------
 *
 * Name:	Update
 *
 * Purpose:	Process one sample pair.
 *
 * Inputs:	tx	- Far end reference sample, as played out.
 *		rx	- Near end sample containing the echo.
 *
 * Returns:	Echo cancelled near end sample.
 *
 * Description:	Both inputs are halved on the way in and the result is
 *		doubled on the way out.  Without the headroom the taps
 *		misbehave as soon as tx approaches clipping.
 *
 *		The background filter adapts on every sample the double
 *		talk detector allows.  The foreground filter never
 *		adapts; it only ever receives a wholesale copy of the
 *		background taps, and only after the background has
 *		outperformed it for six samples running.  That keeps a
 *		diverging background filter from ever being audible.
 *
 *----------------------------------------------------------------*/

func (ec *State) Update(tx int16, rx int16) int16 {
	ec.tx = tx
	ec.rx = rx
	tx >>= 1
	rx >>= 1

	/*
	   DC blocking on the receive path.  Zero at DC, pole at (1 - Beta)
	   on the real axis, so the 3dB point in radians is about Beta.
	   Any DC really slows down convergence, and 32 bit state is needed
	   for the output to track all the way down to zero.  Decent codec
	   front ends don't need this; cheap hybrid cards do.
	*/

	if ec.adaption_mode&ECHO_CAN_USE_RX_HPF != 0 {
		var tmp = int32(rx) << 15

		/* Keep the passband gain at exactly 1.0.  This can still
		   saturate slightly on impulses, but the clipping below is
		   small enough not to upset anything downstream. */
		tmp -= tmp >> 4

		ec.rx_1 += -(ec.rx_1 >> DC_LOG2BETA) + tmp - ec.rx_2

		/* rx was already halved, so the limit here is +/-16383. */
		var tmp1 = ec.rx_1 >> 15
		if tmp1 > 16383 {
			tmp1 = 16383
		}
		if tmp1 < -16383 {
			tmp1 = -16383
		}
		rx = int16(tmp1)
		ec.rx_2 = tmp
	}

	/* Running power of the filter states, for the adaption step size.
	   Out with the old sample, in with the new, so the whole block
	   never needs summing. */

	{
		var new_sq = int32(tx) * int32(tx)
		var old = int32(ec.fir_state.history[ec.fir_state.curr_pos])
		var old_sq = old * old

		ec.Pstates += ((new_sq - old_sq) + (1 << ec.log2taps)) >> ec.log2taps
		if ec.Pstates < 0 {
			ec.Pstates = 0
		}
	}

	/* Short term average levels, single pole IIRs. */

	ec.Ltxacc += abs32(int32(tx)) - ec.Ltx
	ec.Ltx = (ec.Ltxacc + (1 << 4)) >> 5
	ec.Lrxacc += abs32(int32(rx)) - ec.Lrx
	ec.Lrx = (ec.Lrxacc + (1 << 4)) >> 5

	/* Foreground filter --------------------------------------------------- */

	ec.fir_state.coeffs = ec.fir_taps16[0]
	var echo_value = int32(fir16(&ec.fir_state, tx))
	ec.clean = int16(int32(rx) - echo_value)
	ec.Lcleanacc += abs32(int32(ec.clean)) - ec.Lclean
	ec.Lclean = (ec.Lcleanacc + (1 << 4)) >> 5

	/* Background filter --------------------------------------------------- */

	echo_value = int32(fir16(&ec.fir_state_bg, tx))
	var clean_bg = int32(rx) - echo_value
	ec.Lclean_bgacc += abs32(clean_bg) - ec.Lclean_bg
	ec.Lclean_bg = (ec.Lclean_bgacc + (1 << 4)) >> 5

	/* Background filter adaption ------------------------------------------ */

	ec.factor = 0
	ec.shift = 0
	if ec.nonupdate_dwell == 0 {
		/*
		   The stable normalised LMS step is

		       f = Beta * clean_bg / P

		   with P the total power in the filter states, and the tap
		   update wants it in Q30.  Beta of 0.25 works well here, so

		       factor = clean_bg << (30 - 2 - log2(P))

		   log2(P) is approximated by top_bit(P), which can be off by
		   almost a factor of two, and the loop shrugs that off.  P
		   gets a floor of MIN_TX_POWER_FOR_ADAPTION so silence never
		   produces a huge step.
		*/

		var P = MIN_TX_POWER_FOR_ADAPTION + ec.Pstates
		var logP = top_bit(uint32(P)) + ec.log2taps
		var shift = 30 - 2 - logP
		ec.shift = int16(shift)

		lms_adapt_bg(ec, clean_bg, shift)
	}

	/* A crude double talk detector.  Near end energy above the far end
	   means someone is talking over the echo, and adapting on that
	   would wreck the taps, so hold off for a while. */

	ec.adapt = 0
	if ec.Lrx > MIN_RX_POWER_FOR_ADAPTION && ec.Lrx > ec.Ltx {
		ec.nonupdate_dwell = DTD_HANGOVER
	}
	if ec.nonupdate_dwell > 0 {
		ec.nonupdate_dwell--
	}

	/* Transfer logic ------------------------------------------------------ */

	/* The background residual must beat the foreground residual by a
	   decent margin (Lclean_bg < 0.875 Lclean) and be well below the
	   far end level (Lclean_bg < 0.125 Ltx), for six samples in a row,
	   before its taps are trusted enough to copy across. */

	if ec.adaption_mode&ECHO_CAN_USE_ADAPTION != 0 &&
		ec.nonupdate_dwell == 0 &&
		8*ec.Lclean_bg < 7*ec.Lclean &&
		8*ec.Lclean_bg < ec.Ltx {
		if ec.cond_met == 6 {
			ec.adapt = 1
			copy(ec.fir_taps16[0], ec.fir_taps16[1])
		} else {
			ec.cond_met++
		}
	} else {
		ec.cond_met = 0
	}

	/* Non-Linear Processing ----------------------------------------------- */

	ec.clean_nlp = ec.clean
	if ec.adaption_mode&ECHO_CAN_USE_NLP != 0 {
		/* Zap small residuals.  Non linearity in the channel leaves
		   echo the linear filter can't reach, and it is audible. */

		if 16*ec.Lclean < ec.Ltx {
			/* The canceller is at least 24dB ahead of the far end
			   level, so what is left is residual, not speech. */

			if ec.adaption_mode&ECHO_CAN_USE_CNG != 0 {
				ec.cng_level = ec.Lbgn

				/* Very elementary comfort noise.  A fixed LCG
				   through a gentle lowpass, scaled to sit at
				   the measured background level.  Vaguely
				   Hoth shaped at best. */

				ec.cng_rndnum = int32(1664525*uint32(ec.cng_rndnum) + 1013904223)
				ec.cng_filter = ((ec.cng_rndnum & 0xFFFF) - 32768 + 5*ec.cng_filter) >> 3
				ec.clean_nlp = int16((ec.cng_filter * ec.cng_level * 8) >> 14)
			} else if ec.adaption_mode&ECHO_CAN_USE_CLIP != 0 {
				/* Sounds better than CNG in practice. */
				if int32(ec.clean_nlp) > ec.Lbgn {
					ec.clean_nlp = int16(ec.Lbgn)
				}
				if int32(ec.clean_nlp) < -ec.Lbgn {
					ec.clean_nlp = int16(-ec.Lbgn)
				}
			} else {
				/* Plain muting.  Dead air, but the G.168 test
				   suite likes it. */
				ec.clean_nlp = 0
			}
		} else {
			/* Track the background noise level with a slow filter,
			   but only while the residual is quiet so near end
			   speech never inflates it. */
			if ec.Lclean < 40 {
				ec.Lbgn_acc += abs32(int32(ec.clean)) - ec.Lbgn
				ec.Lbgn = (ec.Lbgn_acc + (1 << 11)) >> 12
			}
		}
	}

	/* Roll around the taps buffer. */
	if ec.curr_pos <= 0 {
		ec.curr_pos = ec.taps
	}
	ec.curr_pos--

	if ec.adaption_mode&ECHO_CAN_DISABLE != 0 {
		/* Bypass is exact.  The halved and doubled path would lose
		   the bottom bit, so hand back the sample as received. */
		ec.clean_nlp = ec.rx
		return ec.clean_nlp
	}

	/* Output scaled back up again to match the input scaling. */

	return ec.clean_nlp << 1
}

/*------------------------------------------------------------------
 *
 * Name:	HpfTx
 *
 * Purpose:	DC blocking filter for the transmit direction, for
 *		hosts that want it run before the signal reaches the
 *		hybrid.  Same design as the receive side filter.
 *
 * Inputs:	tx	- Transmit sample.
 *
 * Returns:	Filtered sample, or the input unchanged when the
 *		TX HPF flag is clear.
 *
 * Description:	Soft phones send speech with energy all the way down
 *		to 20Hz or so.  That drives hybrids non linear, and DC
 *		is poison for an LMS loop, so roll off the bass before
 *		it gets there.  Differencing successive samples makes a
 *		lousy highpass on its own; the pole flattens it into a
 *		nicely rolled off bass end, and the extended fractional
 *		precision noise shapes the result, which gives very
 *		clean DC removal.
 *
 *----------------------------------------------------------------*/

func (ec *State) HpfTx(tx int16) int16 {
	if ec.adaption_mode&ECHO_CAN_USE_TX_HPF != 0 {
		var tmp = int32(tx) << 15

		/* Keep the passband gain at exactly 1.0, as on the receive
		   side.  Sustained full scale input can still push the sum
		   to 32768 for a sample, hence the clipping. */
		tmp -= tmp >> 4

		ec.tx_1 += -(ec.tx_1 >> DC_LOG2BETA) + tmp - ec.tx_2

		var tmp1 = ec.tx_1 >> 15
		if tmp1 > 32767 {
			tmp1 = 32767
		}
		if tmp1 < -32767 {
			tmp1 = -32767
		}
		tx = int16(tmp1)
		ec.tx_2 = tmp
	}

	return tx
}
