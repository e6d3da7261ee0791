package memory

import (
	"testing"

	"github.com/jmcleod/irongate/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, NewRepository())
}
