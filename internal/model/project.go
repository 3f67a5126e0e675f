package model

// Project is an Azure DevOps project discovered at initialization together
// with the names of its git repositories.
type Project struct {
	Name  string   `json:"name" yaml:"name"`
	Repos []string `json:"repos" yaml:"repos"`
}
