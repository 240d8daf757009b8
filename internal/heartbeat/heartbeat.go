// Package heartbeat implements the periodic ping/ACK watchdog shared by the
// control gateway and the voice gateway (spec §4.6):
//
//	idle ── hello(I) ──► waiting ── timer(I) ──► fired ── ack ──► waiting
//	                                     │
//	                                     └─ !ack ──► transport_failure
package heartbeat

import "time"

// Beater drives one heartbeat timeline. OnBeat is invoked on every tick to
// send the heartbeat payload; OnFailure is invoked when a tick fires without
// having seen an Ack since the previous tick.
type Beater struct {
	onBeat    func()
	onFailure func()

	helloCh chan time.Duration
	ackCh   chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

// New constructs a Beater; it does not start ticking until Hello is called.
func New(onBeat, onFailure func()) *Beater {
	b := &Beater{
		onBeat:    onBeat,
		onFailure: onFailure,
		helloCh:   make(chan time.Duration),
		ackCh:     make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Hello (re)starts the timer at interval, cancelling any prior timer.
func (b *Beater) Hello(interval time.Duration) {
	select {
	case b.helloCh <- interval:
	case <-b.done:
	}
}

// Ack marks the most recent heartbeat as acknowledged.
func (b *Beater) Ack() {
	select {
	case b.ackCh <- struct{}{}:
	default:
	}
}

// Stop tears down the beater goroutine.
func (b *Beater) Stop() {
	close(b.stopCh)
	<-b.done
}

func (b *Beater) run() {
	defer close(b.done)

	var timer *time.Timer
	var interval time.Duration
	acked := true // idle: nothing pending to ack yet

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	defer stopTimer()

	var timerC <-chan time.Time
	for {
		select {
		case interval = <-b.helloCh:
			stopTimer()
			acked = true
			timer = time.NewTimer(interval)
			timerC = timer.C
		case <-b.ackCh:
			acked = true
		case <-timerC:
			if !acked {
				if b.onFailure != nil {
					b.onFailure()
				}
				continue
			}
			acked = false
			if b.onBeat != nil {
				b.onBeat()
			}
			timer.Reset(interval)
		case <-b.stopCh:
			return
		}
	}
}
