package archive

import (
	"crypto/sha256"
	"fmt"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
)

// HashPhone returns the hex SHA-256 of the normalized phone number.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(clinic.NormalizePhone(phone)))
	return fmt.Sprintf("%x", h)
}
