package canary

import (
	"crypto/rand"
	"fmt"
	"math/big"

	dErrors "contactguard/pkg/domain-errors"
)

// mobilePrefixes are real carrier prefixes, so a fabricated number passes the
// same shape checks a real one does.
var mobilePrefixes = []string{"903", "905", "910", "916", "925", "926", "963", "977", "985"}

// honorifics is the fixed display-name pool. Each entry contains at least one
// Latin "a" or "e" in place of its Cyrillic twin: visually ordinary names,
// distinct from any genuinely typed Russian name under byte comparison.
var honorifics = []string{
	"Мaрия Сергеевна",
	"Еленa Викторовна",
	"Аннa Павловна",
	"Сергeй Петрович",
	"Натaлья Ивановна",
	"Ольгa Дмитриевна",
	"Алeксей Николаевич",
}

func randomInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "draw random value")
	}
	return int(n.Int64()), nil
}

// fabricatePhone returns a canonical-form mobile number with a real carrier
// prefix and random subscriber digits.
func fabricatePhone() (string, error) {
	p, err := randomInt(len(mobilePrefixes))
	if err != nil {
		return "", err
	}
	tail, err := randomInt(10_000_000)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("+7%s%07d", mobilePrefixes[p], tail), nil
}

// fabricateMessengerID returns a plausible numeric messenger account id.
func fabricateMessengerID() (string, error) {
	n, err := randomInt(900_000_000)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", 100_000_000+n), nil
}

func fabricateHonorific() (string, error) {
	i, err := randomInt(len(honorifics))
	if err != nil {
		return "", err
	}
	return honorifics[i], nil
}
