package window

import "fmt"

func ExampleGenerate() {
	w := Generate(TypeHann, 4, WithPeriodic())
	fmt.Printf("%.2f %.2f %.2f %.2f\n", w[0], w[1], w[2], w[3])
	// Output:
	// 0.00 0.50 1.00 0.50
}

func ExampleRise() {
	r := Rise(TypeHann, 3)
	fmt.Printf("%.2f %.2f %.2f\n", r[0], r[1], r[2])
	// Output:
	// 0.00 0.50 1.00
}
