package progress_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/italolelis/mjai_downloader/internal/downloader/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain reads r in fixed size chunks so report points are predictable.
func drain(t *testing.T, r io.Reader, chunk int) {
	t.Helper()

	buf := make([]byte, chunk)
	for {
		_, err := r.Read(buf)
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
	}
}

func TestReader_ReportsIntervalsAndEOF(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 2500)

	var reports []int64
	pr := progress.NewReader(bytes.NewReader(data), int64(len(data)), 1000, func(read, total int64) {
		assert.Equal(t, int64(2500), total)
		reports = append(reports, read)
	})

	drain(t, pr, 500)

	assert.Equal(t, []int64{1000, 2000, 2500}, reports)
	assert.Equal(t, int64(2500), pr.BytesRead())
}

func TestReader_NoDuplicateFinalReport(t *testing.T) {
	var reports []int64
	pr := progress.NewReader(bytes.NewReader(make([]byte, 1000)), -1, 500, func(read, _ int64) {
		reports = append(reports, read)
	})

	drain(t, pr, 500)

	assert.Equal(t, []int64{500, 1000}, reports)
}
