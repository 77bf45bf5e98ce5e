// +build gofuzz

package lexer

import (
	"fmt"
	"math"
)

func Fuzz(data []byte) int {
	var l Lexer
	s, err := l.Run(data)
	if err != nil {
		if s != nil {
			panic(fmt.Errorf("sample returned with error %v: %+v", err, s))
		}
		return 0
	}
	if s.Name == "" || len(s.Values) == 0 || !(s.Rate > 0 && s.Rate <= 1) {
		panic(fmt.Errorf("invalid sample: %+v", s))
	}
	for _, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			panic(fmt.Errorf("non-finite value: %+v", s))
		}
	}
	return 1
}
