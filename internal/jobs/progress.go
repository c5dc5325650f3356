package jobs

import "github.com/book-expert/tts-jobs/internal/core"

// storeSink forwards a driver's progress reports into the store record of one job.
type storeSink struct {
	store *Store
	id    string
}

// NewProgressSink returns a ProgressSink writing into the job id of store.
func NewProgressSink(store *Store, id string) core.ProgressSink {
	return storeSink{store: store, id: id}
}

// Report applies update to the job. Reports for removed or finished jobs are
// dropped by the store.
func (s storeSink) Report(update core.Update) {
	switch update.Kind {
	case core.UpdateChunksPlanned:
		s.store.SetTotalChunks(s.id, update.Chunks)
	case core.UpdateChunkDone:
		s.store.IncrementCompletedChunks(s.id)
	case core.UpdateStage:
	}

	if update.Stage != "" {
		s.store.UpdateProgress(s.id, update.Percent, update.Stage)
	}
}
