package model

import "strings"

// ParseRecipients は "Uxxxxx,Uyyyyy" 形式の CSV をレポート送信先の一覧にする
func ParseRecipients(csv string) []string {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	var result []string
	seen := map[string]bool{}
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		result = append(result, p)
	}
	return result
}
