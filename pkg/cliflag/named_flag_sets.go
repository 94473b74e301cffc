// Package cliflag groups related pflag.FlagSets under a name, preserving
// insertion order, so a command's help output can print "Generic flags:",
// "Population flags:", and so on as separate blocks instead of one
// alphabetical wall of flags.
package cliflag

import "github.com/spf13/pflag"

// NamedFlagSets stores flag sets by name, in the order FlagSet was first
// called for that name.
type NamedFlagSets struct {
	Order    []string
	FlagSets map[string]*pflag.FlagSet
}

// FlagSet returns the flag set registered under name, creating it (and
// recording its position in Order) on first use.
func (nfs *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if nfs.FlagSets == nil {
		nfs.FlagSets = map[string]*pflag.FlagSet{}
	}
	if _, ok := nfs.FlagSets[name]; !ok {
		nfs.FlagSets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		nfs.Order = append(nfs.Order, name)
	}
	return nfs.FlagSets[name]
}

// AddAllFlagsTo copies every flag from every set, in Order, into fs.
func (nfs *NamedFlagSets) AddAllFlagsTo(fs *pflag.FlagSet) {
	for _, name := range nfs.Order {
		fs.AddFlagSet(nfs.FlagSets[name])
	}
}
