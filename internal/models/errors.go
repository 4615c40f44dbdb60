package models

import "errors"

// ErrActiveJob is returned by stores when a text already has a pending,
// processing or paused job.
var ErrActiveJob = errors.New("text already has an active job")

// ErrLeaseLost is returned by stores when a job update names a run that no
// longer owns the job: the lease expired and the job was reset or claimed
// by another run.
var ErrLeaseLost = errors.New("job lease lost")
