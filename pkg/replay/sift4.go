package replay

// sift4 computes a bounded Sift4 approximation of the edit distance between
// two strings. It is not a true Levenshtein distance: the sliding window is
// bounded by maxOffset and the computation exits early with maxDistance once
// the running distance reaches it. Both bounds must be honored exactly for
// match scoring to stay deterministic.
func sift4(s1, s2 string, maxOffset, maxDistance int) int {
	l1, l2 := len(s1), len(s2)
	if l1 == 0 {
		if l2 == 0 {
			return 0
		}
		return capDistance(l2, maxDistance)
	}
	if l2 == 0 {
		return capDistance(l1, maxDistance)
	}

	type offsetPair struct {
		c1, c2 int
		trans  bool
	}

	c1, c2 := 0, 0
	lcss, localCS, trans := 0, 0, 0
	var offsets []offsetPair

	for c1 < l1 && c2 < l2 {
		if s1[c1] == s2[c2] {
			localCS++

			isTrans := false
			i := 0
			for i < len(offsets) {
				ofs := &offsets[i]
				if c1 <= ofs.c1 || c2 <= ofs.c2 {
					isTrans = abs(c2-c1) >= abs(ofs.c2-ofs.c1)
					if isTrans {
						trans++
					} else if !ofs.trans {
						ofs.trans = true
						trans++
					}
					break
				}
				if c1 > ofs.c2 && c2 > ofs.c1 {
					offsets = append(offsets[:i], offsets[i+1:]...)
				} else {
					i++
				}
			}
			offsets = append(offsets, offsetPair{c1: c1, c2: c2, trans: isTrans})
		} else {
			lcss += localCS
			localCS = 0
			if c1 != c2 {
				// Restart matching from the shorter cursor.
				if c2 < c1 {
					c1 = c2
				} else {
					c2 = c1
				}
			}
			if maxDistance > 0 {
				if temp := max(c1, c2) - lcss + trans; temp >= maxDistance {
					return maxDistance
				}
			}
			for i := 0; i < maxOffset && (c1+i < l1 || c2+i < l2); i++ {
				if c1+i < l1 && s1[c1+i] == s2[c2] {
					c1 += i - 1
					c2--
					break
				}
				if c2+i < l2 && s1[c1] == s2[c2+i] {
					c1--
					c2 += i - 1
					break
				}
			}
		}

		c1++
		c2++
		if c1 >= l1 || c2 >= l2 {
			lcss += localCS
			localCS = 0
			if c2 < c1 {
				c1 = c2
			} else {
				c2 = c1
			}
		}
	}

	lcss += localCS
	return capDistance(max(l1, l2)-lcss+trans, maxDistance)
}

func capDistance(d, maxDistance int) int {
	if maxDistance > 0 && d > maxDistance {
		return maxDistance
	}
	return d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
