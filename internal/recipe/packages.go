package recipe

import (
	"fmt"
	"sort"
	"strings"
)

// PackageManager names the OS package tool of a distribution.
type PackageManager string

const (
	PackageManagerApt PackageManager = "apt"
	PackageManagerApk PackageManager = "apk"
)

// SystemPackageSet lists the OS packages needed to compile the native
// PostgreSQL driver on one distribution family.
type SystemPackageSet struct {
	Distro   Distro
	Manager  PackageManager
	Packages []string
}

// Package names differ per family; a base image switch must switch rows too.
var systemPackageTable = map[Distro]SystemPackageSet{
	DistroDebian: {
		Distro:   DistroDebian,
		Manager:  PackageManagerApt,
		Packages: []string{"gcc", "libpq-dev"},
	},
	DistroAlpine: {
		Distro:   DistroAlpine,
		Manager:  PackageManagerApk,
		Packages: []string{"gcc", "musl-dev", "postgresql-dev"},
	},
}

// SystemPackagesFor returns the package row for the distribution.
func SystemPackagesFor(d Distro) (SystemPackageSet, error) {
	if d == "" {
		d = DistroDebian
	}
	set, ok := systemPackageTable[d]
	if !ok {
		return SystemPackageSet{}, fmt.Errorf("%w: %q", ErrUnknownDistro, string(d))
	}
	set.Packages = append([]string(nil), set.Packages...)
	return set, nil
}

// InstallCommand renders the shell line installing the set.
func (s SystemPackageSet) InstallCommand() string {
	pkgs := strings.Join(s.Packages, " ")
	switch s.Manager {
	case PackageManagerApk:
		return "apk add --no-cache " + pkgs
	default:
		return "apt-get update && apt-get install -y --no-install-recommends " + pkgs + " && rm -rf /var/lib/apt/lists/*"
	}
}

// Contains reports whether name is part of the set.
func (s SystemPackageSet) Contains(name string) bool {
	for _, pkg := range s.Packages {
		if pkg == name {
			return true
		}
	}
	return false
}

// Missing lists set members absent from installed.
func (s SystemPackageSet) Missing(installed []string) []string {
	have := make(map[string]struct{}, len(installed))
	for _, name := range installed {
		have[name] = struct{}{}
	}
	var missing []string
	for _, pkg := range s.Packages {
		if _, ok := have[pkg]; !ok {
			missing = append(missing, pkg)
		}
	}
	return missing
}

// ForeignPackages reports names that belong to another family's row and not
// to the row of d. Shared names such as gcc are never foreign.
func ForeignPackages(d Distro, names []string) []string {
	own, err := SystemPackagesFor(d)
	if err != nil {
		return nil
	}
	foreign := map[string]struct{}{}
	for distro, set := range systemPackageTable {
		if distro == own.Distro {
			continue
		}
		for _, pkg := range set.Packages {
			if !own.Contains(pkg) {
				foreign[pkg] = struct{}{}
			}
		}
	}
	var out []string
	for _, name := range names {
		if _, ok := foreign[name]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ManagerFor returns the package manager a distribution ships with.
func ManagerFor(d Distro) PackageManager {
	set, err := SystemPackagesFor(d)
	if err != nil {
		return ""
	}
	return set.Manager
}
