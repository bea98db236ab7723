package vrbound

import (
	"sync"

	vr "github.com/gorgonia/vrbound/vrnet"
	"github.com/pkg/errors"
)

var imgPool = make(map[int]map[int]*sync.Pool)
var imgPoolLock sync.Mutex

func borrowImage(h, w int) [][]float32 {
	imgPoolLock.Lock()
	defer imgPoolLock.Unlock()
	if d, ok := imgPool[h]; ok {
		if d2, ok := d[w]; ok {
			return d2.Get().([][]float32)
		}
	}
	return make([][]float32, h)
}

// MakeImage views a row of h·w features as h rows of w pixels. The view shares memory with
// row. Give it back with ReturnImage when done.
func MakeImage(row []float32, h, w int) ([][]float32, error) {
	if len(row) != h*w {
		return nil, errors.Errorf("%d features cannot be viewed as a %dx%d image", len(row), h, w)
	}
	retVal := borrowImage(h, w)
	for i := range retVal {
		start := i * w
		retVal[i] = row[start : start+w : start+w]
	}
	return retVal, nil
}

// ReturnImage returns an image view made by MakeImage.
func ReturnImage(h, w int, img [][]float32) {
	for i := range img {
		img[i] = nil
	}

	imgPoolLock.Lock()
	defer imgPoolLock.Unlock()
	if _, ok := imgPool[h]; !ok {
		imgPool[h] = make(map[int]*sync.Pool)
	}
	if _, ok := imgPool[h][w]; !ok {
		imgPool[h][w] = &sync.Pool{
			New: func() interface{} { return make([][]float32, h) },
		}
	}
	imgPool[h][w].Put(img)
}

type evalKey struct{ n, k int }

// evaluators keeps one compiled fwd only graph per (batch size, samples) shape, so scoring
// a dataset whose size is not a multiple of the batch size compiles at most two graphs.
type evaluators struct {
	sync.Mutex
	m map[evalKey]*vr.Evaluator
}

func (p *evaluators) get(t *vr.Trainer, n, k int) (*vr.Evaluator, error) {
	p.Lock()
	defer p.Unlock()
	if p.m == nil {
		p.m = make(map[evalKey]*vr.Evaluator)
	}
	key := evalKey{n, k}
	if e, ok := p.m[key]; ok {
		return e, e.Sync(t)
	}
	e, err := t.Evaluator(n, k)
	if err != nil {
		return nil, err
	}
	p.m[key] = e
	return e, nil
}

func (p *evaluators) Close() error {
	p.Lock()
	defer p.Unlock()
	var allErrs manyErr
	for key, e := range p.m {
		if err := e.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
		delete(p.m, key)
	}
	if len(allErrs) > 0 {
		return allErrs
	}
	return nil
}
