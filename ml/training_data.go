package ml

// Engineer turns raw training rows into model records and the log target.
type Engineer struct {
	MinSize float64
}

func NewEngineer() *Engineer {
	return &Engineer{MinSize: DefaultMinSize}
}

// TrainingSet is the engineered form of a training batch. Localities holds
// the raw Area Locality of each record until ApplyLocalities buckets them.
type TrainingSet struct {
	Records    []EngineeredRecord
	Localities []string
	Target     []float64
	Report     DataQualityReport
}

// Build cleans the batch, parses floors, imputes missing floors with the
// batch medians and derives the floor flags and the Rent_Log target.
func (e *Engineer) Build(raw []RawRecord) (*TrainingSet, error) {
	report := newDataQualityReport(len(raw))
	admitted := NewCleaner(e.MinSize).Clean(raw, &report)
	if len(admitted) == 0 {
		return &TrainingSet{Report: report}, ErrNoTrainingData
	}

	floors := make([]Floor, len(admitted))
	observedNum := make([]float64, 0, len(admitted))
	observedTotal := make([]float64, 0, len(admitted))
	for i, record := range admitted {
		var text *string
		if cell, ok := record.Lookup(ColFloor); ok {
			text = &cell
		}
		floor := ParseFloor(text)
		if text != nil && (!floor.HasNum || !floor.HasTotal) {
			report.record(DataQualityError{Row: i, Column: ColFloor, Value: *text, Reason: issueFloorUnparsed})
		}
		if floor.HasNum {
			observedNum = append(observedNum, float64(floor.Num))
		}
		if floor.HasTotal {
			observedTotal = append(observedTotal, float64(floor.Total))
		}
		floors[i] = floor
	}
	report.MedianFloorNum = median(observedNum)
	report.MedianTotalFloors = median(observedTotal)

	set := &TrainingSet{
		Records:    make([]EngineeredRecord, len(admitted)),
		Localities: make([]string, len(admitted)),
		Target:     make([]float64, len(admitted)),
	}
	for i, record := range admitted {
		floorNum, totalFloors := report.MedianFloorNum, report.MedianTotalFloors
		if floors[i].HasNum {
			floorNum = float64(floors[i].Num)
		} else {
			report.FloorNumImputed++
		}
		if floors[i].HasTotal {
			totalFloors = float64(floors[i].Total)
		} else {
			report.TotalFloorsImputed++
		}

		bhk, _ := parseNumber(record[ColBHK])
		size, _ := parseNumber(record[ColSize])
		bathroom, _ := parseNumber(record[ColBathroom])
		rent, _ := parseNumber(record[ColRent])

		set.Records[i] = EngineeredRecord{
			BHK:              bhk,
			Size:             size,
			Bathroom:         bathroom,
			FloorNum:         floorNum,
			TotalFloors:      totalFloors,
			AreaType:         NormalizeText(record[ColAreaType]),
			City:             NormalizeText(record[ColCity]),
			FurnishingStatus: NormalizeText(record[ColFurnishingStatus]),
			TenantPreferred:  NormalizeText(record[ColTenantPreferred]),
		}.WithFloorFlags()
		set.Localities[i] = NormalizeText(record[ColAreaLocality])
		set.Target[i] = LogTarget(rent)
	}
	set.Report = report
	return set, nil
}

// ApplyLocalities fills Area_Locality_Simple from the frozen vocabulary.
func (s *TrainingSet) ApplyLocalities(vocabulary *LocalityVocabulary) {
	for i := range s.Records {
		s.Records[i].AreaLocalitySimple = vocabulary.Bucket(s.Localities[i])
	}
}
