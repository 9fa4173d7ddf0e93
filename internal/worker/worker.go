package worker

type Worker struct {
	pool       *jobChannelPool
	manager    *Manager
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool, manager *Manager) *Worker {
	return &Worker{
		pool:       pool,
		manager:    manager,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) start() {
	go func() {
		w.pool.release(w.jobChannel)
		for job := range w.jobChannel {
			switch job.Type {
			case Ingest:
				w.manager.handleIngest(job.IngestTask)
			case Stop:
				w.pool.retire(w.jobChannel)
				return
			}
			w.pool.release(w.jobChannel)
		}
	}()
}
