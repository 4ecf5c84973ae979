package serialized

// RowPos returns the metadata position of an object's byteStart field.
func RowPos(o *Object) int { return o.startPos }
