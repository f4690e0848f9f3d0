package parallel

import (
	"errors"
	"sync"
)

// ForEach runs body for every index in [0, length) with at most limit
// goroutines in flight and waits for all of them to finish. Failures are
// joined in index order so callers can attribute them to inputs.
func ForEach(length, limit int, body func(i int) error) error {
	if length <= 0 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}
	errs := make([]error, length)
	if limit == 1 {
		for i := range errs {
			errs[i] = body(i)
		}
		return errors.Join(errs...)
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)
	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = body(i)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
