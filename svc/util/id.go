package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

const idBytes = 16

// GenID returns a 128-bit random token, hex-encoded. exists may be nil; when
// set, ids it reports as taken are redrawn.
func GenID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < 5; retry++ {
		buf := make([]byte, idBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		id := hex.EncodeToString(buf)
		if exists == nil {
			return id, nil
		}
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.New("id collision after 5 retries")
}
