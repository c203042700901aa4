package testing

import (
	"github.com/brianvoe/gofakeit/v7"

	"github.com/putreap/putreap/internal/putio"
)

// TransferFixture builds a plausible transfer in the given status. The
// caller wires FileID and SaveParentID where the test needs them.
func TransferFixture(f *gofakeit.Faker, status string) putio.Transfer {
	name := f.Movie().Name
	hash := f.Regex("[a-f0-9]{40}")
	size := int64(f.Number(100_000_000, 5_000_000_000))
	downloaded := size
	if status == putio.StatusDownloading {
		downloaded = int64(f.Number(0, int(size)))
	}
	eta := int64(f.Number(0, 3600))
	source := "magnet:?xt=urn:btih:" + hash

	return putio.Transfer{
		Hash:          &hash,
		Name:          &name,
		Size:          &size,
		Downloaded:    &downloaded,
		EstimatedTime: &eta,
		Status:        status,
		Source:        &source,
	}
}
