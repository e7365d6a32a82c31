package recipe

import (
	"fmt"
	"sort"
	"strings"
)

// Variants returns the five observed build recipes of the service.
func Variants() []Recipe {
	return []Recipe{
		{
			Name:        "slim-direct",
			Description: "Debian slim, libpq build packages, uvicorn invoked directly on 8000",
			Base:        BaseImage{PythonVersion: "3.11", Distro: DistroDebian},
			SystemDeps:  SystemDepsAuto,
			Entrypoint:  DirectServe{},
		},
		{
			Name:        "slim-script",
			Description: "Debian slim, libpq build packages, start.sh reads PORT",
			Base:        BaseImage{PythonVersion: "3.11", Distro: DistroDebian},
			SystemDeps:  SystemDepsAuto,
			Entrypoint:  ScriptedServe{},
		},
		{
			Name:        "alpine-direct",
			Description: "Alpine with gcc, musl-dev and postgresql-dev, uvicorn invoked directly",
			Base:        BaseImage{PythonVersion: "3.11", Distro: DistroAlpine},
			SystemDeps:  SystemDepsAuto,
			Entrypoint:  DirectServe{},
		},
		{
			Name:        "slim-env",
			Description: "Debian slim with interpreter and pip flags declared, uvicorn invoked directly",
			Base:        BaseImage{PythonVersion: "3.11", Distro: DistroDebian},
			SystemDeps:  SystemDepsAuto,
			Env:         FullEnvironment(),
			Entrypoint:  DirectServe{},
		},
		{
			Name:        "railway-script",
			Description: "Debian slim tuned for Railway: debug echoes, pip flags, start.sh binds the injected PORT",
			Base:        BaseImage{PythonVersion: "3.11", Distro: DistroDebian},
			SystemDeps:  SystemDepsAuto,
			Env:         FullEnvironment(),
			Entrypoint:  ScriptedServe{},
			Debug:       true,
		},
	}
}

// VariantNames lists the variant names sorted.
func VariantNames() []string {
	variants := Variants()
	names := make([]string, 0, len(variants))
	for _, v := range variants {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

// LookupVariant finds a variant by name.
func LookupVariant(name string) (Recipe, error) {
	target := strings.ToLower(strings.TrimSpace(name))
	for _, v := range Variants() {
		if v.Name == target {
			return v.WithDefaults(), nil
		}
	}
	return Recipe{}, fmt.Errorf("unknown variant %q (known: %s)", name, strings.Join(VariantNames(), ", "))
}
