// Package archivefs federates archive files into the host file system.
//
// Containers such as ZIP and TAR files are mounted on first access and
// appear as directories. Containers may be nested: "dist/app.zip/lib/b.tar"
// is a TAR container stored in a ZIP container. Every container is served
// by a pipeline of controllers which share one write lock per container,
// cache entry content, and defer rewriting the container until Sync.
//
// Basic usage:
//
//	ws, _ := archivefs.Open("/srv/data")
//	defer ws.Close()
//
//	// Create a container and write to it
//	ws.WriteFile("release.zip/bin/app", data)
//
//	// Read through nested containers
//	data, _ := ws.ReadFile("release.zip/src.tar.zst/main.go")
//
//	// List a container
//	entries, _ := ws.ReadDir("release.zip")
//
//	// Write pending changes to the host
//	ws.Sync()
//
// Lower level access to the controllers is available through the Manager:
//
//	m, _ := archivefs.New(archivefs.WithHostRoot("/srv/data"))
//	c, name, _ := m.Resolve("release.zip/bin/app")
//	node, _ := c.Stat(ctx, 0, name)
//	m.Close(ctx)
package archivefs
