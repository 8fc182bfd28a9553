package sqpoll

import "github.com/ehrlich-b/go-sqpoll/internal/interfaces"

// Ring is one io_uring instance of a group.
type Ring = interfaces.Ring

// Completion is a consumed completion queue entry.
type Completion = interfaces.Completion

// RingConfig describes one ring of a group.
type RingConfig = interfaces.RingConfig

// RingFactory creates rings for a group.
type RingFactory = interfaces.RingFactory
