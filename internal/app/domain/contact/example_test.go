package contact_test

import (
	"fmt"
	"time"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
)

func ExampleHasBirthdayWithin() {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	birth := time.Date(1990, time.March, 14, 0, 0, 0, 0, time.UTC)

	fmt.Println(contact.HasBirthdayWithin(birth, now, 7))
	fmt.Println(contact.HasBirthdayWithin(birth, now, 3))
	// Output:
	// true
	// false
}

func ExampleParseDate() {
	d, err := contact.ParseDate("1815-12-10")
	if err != nil {
		panic(err)
	}
	fmt.Println(d, d.Weekday())
	// Output: 1815-12-10 Sunday
}
