package agent

import (
	"github.com/sirupsen/logrus"

	"github.com/scanbridge/agent/internal/control"
	"github.com/scanbridge/agent/internal/data"
	"github.com/scanbridge/agent/internal/store"
)

// watchTransferEvents logs each TransferExpected the control endpoint
// raises. Components never hold a reference back to the Supervisor;
// they only ever emit onto channels the Supervisor reads (spec.md §5).
func watchTransferEvents(ch <-chan control.TransferExpected, log *logrus.Entry) {
	for ev := range ch {
		log.WithField("sender", ev.SenderIP).WithField("src_name", ev.SrcName).
			Debug("transfer expected")
	}
}

// watchCompletions logs each committed artifact and enforces retention
// immediately afterwards, per spec.md §4.2's "after a successful commit"
// rule. Retention applies whether or not proxy mode is enabled, so when
// forward is non-nil each event is relayed onward to the forwarder's own
// queue after this Supervisor-owned bookkeeping runs.
func watchCompletions(ch <-chan data.Completed, st *store.Store, maxRetention int, forward chan<- data.Completed, log *logrus.Entry) {
	for ev := range ch {
		log.WithField("path", ev.Artifact.Path).
			WithField("sender", ev.SenderIP).
			WithField("size", ev.Artifact.Size).
			Info("transfer completed")

		if err := st.EnforceRetention(maxRetention); err != nil {
			log.WithError(err).Warn("retention enforcement failed")
		}

		if forward == nil {
			continue
		}
		select {
		case forward <- ev:
		default:
			log.Warn("forward relay channel full, dropping completed event for proxy")
		}
	}

	if forward != nil {
		close(forward)
	}
}
