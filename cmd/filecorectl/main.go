// Command filecorectl is a small operator CLI for inspecting a
// filecore session's journal and on-disk session registry. It exists to
// exercise the domain stack end to end; it is not part of the library's
// contract.
package main

func main() {
	execute()
}
