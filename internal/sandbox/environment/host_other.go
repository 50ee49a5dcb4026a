//go:build !linux

package environment

func detectHost() HostSupport {
	return HostSupport{Reason: "namespaces require linux"}
}
