package vrbound

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type Statistics struct {
	Epochs    []int
	Bounds    []float64
	Durations []time.Duration
}

func makeStatistics() Statistics {
	return Statistics{
		Epochs:    make([]int, 0, 64),
		Bounds:    make([]float64, 0, 64),
		Durations: make([]time.Duration, 0, 64),
	}
}

func (s *Statistics) update(epoch int, bound float64, took time.Duration) {
	s.Epochs = append(s.Epochs, epoch)
	s.Bounds = append(s.Bounds, bound)
	s.Durations = append(s.Durations, took)
}

// Dump writes one CSV record per epoch: the epoch, its bound and the seconds it took.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"epoch", "bound", "seconds"}); err != nil {
		return err
	}
	records := make([][]string, 0, len(s.Epochs))
	for i, epoch := range s.Epochs {
		records = append(records, []string{
			strconv.Itoa(epoch),
			strconv.FormatFloat(s.Bounds[i], 'f', 4, 64),
			strconv.FormatFloat(s.Durations[i].Seconds(), 'f', 3, 64),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return nil
}
