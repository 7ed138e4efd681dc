package album

// AssertOwnership fails with ErrForbidden unless the album belongs to familyID.
func AssertOwnership(album *Album, familyID int64) error {
	if album == nil {
		return ErrAlbumNotFound
	}
	if album.FamilyID != familyID {
		return ErrForbidden
	}
	return nil
}
