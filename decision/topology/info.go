package topology

import (
	"strings"

	"github.com/gacybercenter/openstack-top-graph/decision/template"
)

// Summary is a flattened "key: values" rendering of node data, one line per
// key. Values collected under the same key are joined with ", ".
type Summary struct {
	Short string
	Long  string
}

var (
	// keys never collected
	summarySkip = map[string]bool{
		"template":         true,
		"get_param":        true,
		"user_data_format": true,
		"name":             true,
	}
	// keys left out of the short form
	summaryShortSkip = map[string]bool{
		"template":         true,
		"user_data_format": true,
		"config":           true,
		"user_data":        true,
	}
	ipKeys = []string{"ip_address", "fixed_ip", "cidr"}
)

type summaryEntry struct {
	key    string
	values []string
}

// Summarize flattens data into short and long summaries. Nested scalars are
// filed under their nearest key; get_resource and list_join values are filed
// under the key that holds them.
func Summarize(data *template.Value) Summary {
	entries := collectEntries(data)

	var short, long strings.Builder
	for _, e := range entries {
		line := e.key + ": " + strings.Join(e.values, ", ") + "\n"
		long.WriteString(line)
		if !summaryShortSkip[e.key] {
			short.WriteString(line)
		}
	}
	return Summary{Short: short.String(), Long: long.String()}
}

// ExtractIP returns the values of the last ip_address, fixed_ip or cidr entry.
func ExtractIP(data *template.Value) string {
	ip := ""
	for _, e := range collectEntries(data) {
		for _, k := range ipKeys {
			if strings.Contains(e.key, k) {
				ip = strings.Join(e.values, ", ")
				break
			}
		}
	}
	return ip
}

func collectEntries(data *template.Value) []summaryEntry {
	var entries []summaryEntry
	index := make(map[string]int)

	add := func(key, value string) {
		i, ok := index[key]
		if !ok {
			i = len(entries)
			index[key] = i
			entries = append(entries, summaryEntry{key: key})
		}
		entries[i].values = append(entries[i].values, value)
	}

	var collect func(v *template.Value, key, parentKey string)
	collect = func(v *template.Value, key, parentKey string) {
		switch v.Kind() {
		case template.KindList:
			for _, item := range v.Items() {
				if s, ok := item.Str(); ok && (s == "" || s == ".") {
					continue
				}
				collect(item, key, parentKey)
			}
		case template.KindMap:
			for _, k := range v.Keys() {
				child, _ := v.Get(k)
				current := k
				if k == refGetResource {
					current = parentKey
				}
				switch {
				case current == "list_join":
					collect(child, parentKey, parentKey)
				case !summarySkip[current]:
					collect(child, current, current)
				}
			}
		case template.KindNull:
			// unset values are left out
		default:
			if key != "" {
				add(key, v.Scalar())
			}
		}
	}
	collect(data, "", "")
	return entries
}
