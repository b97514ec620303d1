// Command tlbsim runs workloads on a simulated paged memory system with a
// software TLB.
package main

func main() {
	Execute()
}
