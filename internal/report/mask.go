package report

import "strings"

// MaskEmail hides most of an email's local part. Local parts shorter than 3
// characters keep only the first character followed by "***"; longer ones
// keep 4 characters and star the rest. Input without "@" is returned as is.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}

	r := []rune(local)
	if len(r) < 3 {
		head := ""
		if len(r) > 0 {
			head = string(r[0])
		}
		return head + "***@" + domain
	}

	keep := min(4, len(r))
	return string(r[:keep]) + strings.Repeat("*", len(r)-keep) + "@" + domain
}
