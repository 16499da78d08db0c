package model

import (
	"strings"
	"unicode"
)

// Category is an artefact category key. Classification assigns one of the
// base keys; transformers may emit a more specific key such as srum_other.
type Category string

const (
	CategorySRUM           Category = "srum"
	CategoryAmcache        Category = "amcache"
	CategoryAppCompatCache Category = "appcompatcache"
	CategoryRunKey         Category = "runkey"
	CategoryUSB            Category = "usb"
	CategoryMRU            Category = "mru"
	CategoryUserAssist     Category = "userassist"
	CategoryBrowserHistory Category = "browser_history"
	CategoryEvtx           Category = "evtx"
	CategoryHive           Category = "hive"
	CategoryDB             Category = "db"
	CategoryLnk            Category = "lnk"
	CategoryPrefetch       Category = "prefetch"
	CategoryWinFile        Category = "win_file"
	CategoryMFT            Category = "mft"
	CategoryOther          Category = "other"

	// Error variants keep failures next to the data they belong to.
	CategoryAmcacheOther        Category = "amcache_other"
	CategorySRUMOther           Category = "srum_other"
	CategoryBrowserHistoryOther Category = "browser_history_other"
)

// Family is the coarse index destination shared by related categories.
type Family string

const (
	FamilyEvtx             Family = "evtx"
	FamilyHive             Family = "hive"
	FamilyProcess          Family = "process"
	FamilyFiles            Family = "files"
	FamilyBrowserArtefacts Family = "browser_artefacts"
	FamilyOthers           Family = "others"
)

// Families lists every index family in a stable order.
var Families = []Family{
	FamilyEvtx,
	FamilyHive,
	FamilyProcess,
	FamilyFiles,
	FamilyBrowserArtefacts,
	FamilyOthers,
}

var familyByCategory = map[Category]Family{
	CategoryEvtx: FamilyEvtx,

	CategoryHive:       FamilyHive,
	CategoryRunKey:     FamilyHive,
	CategoryUSB:        FamilyHive,
	CategoryMRU:        FamilyHive,
	CategoryUserAssist: FamilyHive,

	CategoryPrefetch:       FamilyProcess,
	CategoryAmcache:        FamilyProcess,
	CategoryAmcacheOther:   FamilyProcess,
	CategoryAppCompatCache: FamilyProcess,
	CategorySRUM:           FamilyProcess,
	CategorySRUMOther:      FamilyProcess,

	CategoryMFT: FamilyFiles,
	CategoryLnk: FamilyFiles,

	CategoryBrowserHistory:      FamilyBrowserArtefacts,
	CategoryBrowserHistoryOther: FamilyBrowserArtefacts,
}

// Family maps a category key to its index family; unknown keys go to others.
func (c Category) Family() Family {
	if f, ok := familyByCategory[c]; ok {
		return f
	}
	return FamilyOthers
}

// IndexPrefix builds the per-run prefix <case>_<machine>.
func IndexPrefix(caseName, machineName string) string {
	return SanitizeCaseName(caseName) + "_" + SanitizeMachineName(machineName)
}

// IndexName returns the destination index for a category under prefix.
func IndexName(prefix string, c Category) string {
	return prefix + "_" + string(c.Family())
}

// SanitizeCaseName keeps letters, digits, '-' and '_' and lower-cases the rest.
func SanitizeCaseName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return strings.ToLower(b.String())
}

// SanitizeMachineName lower-cases and replaces spaces with underscores.
func SanitizeMachineName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
