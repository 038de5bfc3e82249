package build

import "fmt"

type Key struct{}

var InfoKey = Key{}

// Info describes the running binary. Values are stamped by the linker.
type Info struct {
	Version string
	Commit  string
	Date    string
}

func (i *Info) String() string {
	if i == nil {
		return "dev"
	}
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Date)
}

// UserAgent identifies the client to the API.
func (i *Info) UserAgent(cliName string) string {
	if i == nil || i.Version == "" {
		return cliName + "/dev"
	}
	return cliName + "/" + i.Version
}
