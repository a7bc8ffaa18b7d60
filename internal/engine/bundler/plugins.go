package bundler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

const sourceFilter = `\.(m|c)?(j|t)sx?$`

// transformPlugins runs transform over local modules pulled into the bundle.
// Installed packages are loaded untouched.
func transformPlugins(transform func(path string, source []byte) (string, error)) []api.Plugin {
	if transform == nil {
		return nil
	}
	return []api.Plugin{{
		Name: "native-binary-preprocessor",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: sourceFilter, Namespace: "file"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				if isInstalledPackage(args.Path) {
					return api.OnLoadResult{}, nil
				}
				data, err := os.ReadFile(args.Path)
				if err != nil {
					return api.OnLoadResult{}, err
				}
				contents, err := transform(args.Path, data)
				if err != nil {
					return api.OnLoadResult{}, err
				}
				dir := filepath.Dir(args.Path)
				return api.OnLoadResult{
					Contents:   &contents,
					ResolveDir: dir,
					Loader:     loaderFor(args.Path),
				}, nil
			})
		},
	}}
}

func isInstalledPackage(path string) bool {
	return strings.Contains(filepath.ToSlash(path), "/node_modules/")
}
